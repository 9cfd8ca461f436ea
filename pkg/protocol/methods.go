package protocol

// RPC method name constants. Requests carry the "req:" prefix on the wire;
// responses answer with "res:<method>".
const (
	MethodHello         = "req:hello"
	MethodChannelsList  = "req:channels.list"
	MethodChatList      = "req:chat.list"
	MethodChatMessages  = "req:chat.messages"
	MethodAgentRun      = "req:agent.run"
	MethodRunsTail      = "req:runs.tail"
	MethodConfigGet     = "req:config.get"
	MethodConfigSet     = "req:config.set"
	MethodDoctorAudit   = "req:doctor.audit"
	MethodApprovalGrant = "req:approval.grant"
)

// MethodName strips the "req:" prefix for building "res:<method>" types.
func MethodName(reqType string) string {
	if len(reqType) > 4 && reqType[:4] == "req:" {
		return reqType[4:]
	}
	return reqType
}
