package agent

// GrantApproval fires the one-shot signal for a waiting run. It reports
// whether any waiter was resumed; a denial is modelled as absence, letting
// the approval timeout fire.
func (e *Engine) GrantApproval(runID string) bool {
	e.mu.Lock()
	sig, ok := e.signals[runID]
	if ok {
		delete(e.signals, runID)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	close(sig)
	return true
}

// PendingApprovals snapshots the runs currently waiting for sign-off.
func (e *Engine) PendingApprovals() []PendingApproval {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingApproval, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p)
	}
	return out
}
