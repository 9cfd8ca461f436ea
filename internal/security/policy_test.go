package security

import (
	"strings"
	"testing"

	"github.com/zankora/agw/internal/domain"
)

func newEngine(policy domain.Policy, requireApprovals bool) *PolicyEngine {
	return NewPolicyEngine(policy, NewRateLimiter(100, 100), requireApprovals)
}

func TestAllowSenderDenyByDefault(t *testing.T) {
	e := newEngine(domain.DefaultPolicy(), true)
	ok, reason := e.AllowSender("ch_web", "alice", true, false)
	if ok || reason != ReasonSenderNotAllowed {
		t.Fatalf("got (%v, %q), want (false, sender_not_allowlisted)", ok, reason)
	}
}

func TestAllowSenderOrder(t *testing.T) {
	base := domain.DefaultPolicy()
	base.Allowlist["ch_web"] = []string{"alice"}

	tests := []struct {
		name     string
		mutate   func(*domain.Policy)
		sender   string
		isDM     bool
		isGroup  bool
		wantOK   bool
		wantWhy  string
	}{
		{
			name:    "allowlisted dm blocked by dm policy",
			sender:  "alice",
			isDM:    true,
			wantWhy: ReasonDMBlocked,
		},
		{
			name:    "allowlisted group blocked by group policy",
			sender:  "alice",
			isGroup: true,
			wantWhy: ReasonGroupBlocked,
		},
		{
			name: "dm allowed when policy allows",
			mutate: func(p *domain.Policy) {
				p.DMPolicy = domain.PolicyAllow
			},
			sender:  "alice",
			isDM:    true,
			wantOK:  true,
			wantWhy: ReasonOK,
		},
		{
			name: "allowlist checked before dm policy",
			mutate: func(p *domain.Policy) {
				p.DMPolicy = domain.PolicyAllow
			},
			sender:  "mallory",
			isDM:    true,
			wantWhy: ReasonSenderNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base.Clone()
			if tt.mutate != nil {
				tt.mutate(&p)
			}
			e := newEngine(p, true)
			ok, reason := e.AllowSender("ch_web", tt.sender, tt.isDM, tt.isGroup)
			if ok != tt.wantOK || reason != tt.wantWhy {
				t.Fatalf("got (%v, %q), want (%v, %q)", ok, reason, tt.wantOK, tt.wantWhy)
			}
		})
	}
}

func TestAllowSenderRateLimited(t *testing.T) {
	p := domain.DefaultPolicy()
	p.Allowlist["ch_web"] = []string{"alice"}
	p.DMPolicy = domain.PolicyAllow
	e := NewPolicyEngine(p, NewRateLimiter(0.001, 2), true)

	for i := 0; i < 2; i++ {
		if ok, reason := e.AllowSender("ch_web", "alice", true, false); !ok {
			t.Fatalf("call %d blocked: %s", i, reason)
		}
	}
	ok, reason := e.AllowSender("ch_web", "alice", true, false)
	if ok || reason != ReasonRateLimited {
		t.Fatalf("got (%v, %q), want (false, rate_limited)", ok, reason)
	}

	// A different sender gets a fresh bucket.
	p2 := e.Policy()
	p2.Allowlist["ch_web"] = append(p2.Allowlist["ch_web"], "bob")
	e.SetPolicy(p2)
	if ok, reason := e.AllowSender("ch_web", "bob", true, false); !ok {
		t.Fatalf("fresh sender blocked: %s", reason)
	}
}

func TestAllowTool(t *testing.T) {
	p := domain.DefaultPolicy()
	p.ToolAllow["core.echo"] = domain.PermissionRead
	p.ToolAllow["fs.write"] = domain.PermissionWrite

	tests := []struct {
		name             string
		requireApprovals bool
		spec             domain.ToolSpec
		wantOK           bool
		wantReason       string
		wantApproval     bool
	}{
		{
			name:       "unknown tool denied",
			spec:       domain.ToolSpec{Name: "foo.bar"},
			wantReason: ReasonToolNotAllowed,
		},
		{
			name:         "read tool allowed without approval",
			spec:         domain.ToolSpec{Name: "core.echo", Permission: domain.PermissionRead},
			wantOK:       true,
			wantReason:   ReasonOK,
		},
		{
			name:             "write tool needs approval when required",
			requireApprovals: true,
			spec:             domain.ToolSpec{Name: "fs.write", Permission: domain.PermissionWrite},
			wantOK:           true,
			wantReason:       ReasonOK,
			wantApproval:     true,
		},
		{
			name:       "write tool passes when approvals off",
			spec:       domain.ToolSpec{Name: "fs.write", Permission: domain.PermissionWrite},
			wantOK:     true,
			wantReason: ReasonOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(p, tt.requireApprovals)
			ok, reason, approval := e.AllowTool(tt.spec)
			if ok != tt.wantOK || reason != tt.wantReason || approval != tt.wantApproval {
				t.Fatalf("got (%v, %q, %v), want (%v, %q, %v)",
					ok, reason, approval, tt.wantOK, tt.wantReason, tt.wantApproval)
			}
		})
	}
}

func TestEmptyPolicyDeniesEverything(t *testing.T) {
	e := newEngine(domain.Policy{}, false)
	if ok, _ := e.AllowSender("any", "anyone", false, false); ok {
		t.Fatal("empty policy allowed a sender")
	}
	if ok, _, _ := e.AllowTool(domain.ToolSpec{Name: "core.echo"}); ok {
		t.Fatal("empty policy allowed a tool")
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"hello world",
		"bad\x00chars\x07here",
		"tabs\tand\nnewlines stay",
		strings.Repeat("a", 5000),
		"see https://example.com/" + strings.Repeat("q", 200) + " now",
		"two urls https://a.example and https://b.example",
	}
	for _, in := range inputs {
		once, _ := Sanitize(in)
		twice, issues := Sanitize(once)
		if twice != once {
			t.Fatalf("not idempotent for %q", in[:min(40, len(in))])
		}
		for _, tag := range issues {
			if tag == "control_chars_removed" || tag == "truncated" {
				t.Fatalf("second pass reported %q for %q", tag, in[:min(40, len(in))])
			}
		}
	}
}

func TestSanitizeIssues(t *testing.T) {
	out, issues := Sanitize("ping\x01 https://a.example ok")
	if strings.ContainsRune(out, '\x01') {
		t.Fatal("control char survived")
	}
	wantTags := map[string]bool{"control_chars_removed": false, "urls:1": false}
	for _, tag := range issues {
		if _, ok := wantTags[tag]; ok {
			wantTags[tag] = true
		}
	}
	for tag, seen := range wantTags {
		if !seen {
			t.Fatalf("missing issue tag %q in %v", tag, issues)
		}
	}

	long, issues := Sanitize(strings.Repeat("x", 4100))
	if len(long) != 4000 {
		t.Fatalf("truncated length = %d, want 4000", len(long))
	}
	found := false
	for _, tag := range issues {
		if tag == "truncated" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing truncated tag in %v", issues)
	}
}

func TestSanitizeRedactsLongURLs(t *testing.T) {
	out, _ := Sanitize("go to https://example.com/" + strings.Repeat("p", 150))
	if !strings.Contains(out, "[link_redacted]") {
		t.Fatalf("long url not redacted: %q", out)
	}
}

func TestVerifyClientKey(t *testing.T) {
	keys := []string{"k1", "k2"}
	if !VerifyClientKey("k2", keys) {
		t.Fatal("valid key rejected")
	}
	if VerifyClientKey("nope", keys) {
		t.Fatal("invalid key accepted")
	}
	if VerifyClientKey("", keys) {
		t.Fatal("empty key accepted")
	}
	if VerifyClientKey("k1", nil) {
		t.Fatal("key accepted with no configured keys")
	}
}
