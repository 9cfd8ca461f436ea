package protocol

// Server-pushed event frame types. The prefix distinguishes pushed frames
// from responses on the shared connection.
const (
	EventPrefix = "evt:"

	EvtRunProgress     = "evt:run.progress"
	EvtRunToolCall     = "evt:run.tool_call"
	EvtRunOutput       = "evt:run.output"
	EvtRunCompleted    = "evt:run.completed"
	EvtSecurityBlocked = "evt:security.blocked"
	EvtMessageInbound  = "evt:message.inbound"
)
