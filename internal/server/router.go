package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zankora/agw/pkg/protocol"
)

// HandlerFunc serves one RPC method. It returns the response payload or a
// structured error; panics are converted to internal errors by the router.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, *protocol.Error)

// Router dispatches request frames to method handlers.
type Router struct {
	s        *Server
	handlers map[string]HandlerFunc
}

func newRouter(s *Server) *Router {
	r := &Router{s: s, handlers: make(map[string]HandlerFunc)}
	r.handlers[protocol.MethodHello] = s.handleHello
	r.handlers[protocol.MethodChannelsList] = s.handleChannelsList
	r.handlers[protocol.MethodChatList] = s.handleChatList
	r.handlers[protocol.MethodChatMessages] = s.handleChatMessages
	r.handlers[protocol.MethodAgentRun] = s.handleAgentRun
	r.handlers[protocol.MethodRunsTail] = s.handleRunsTail
	r.handlers[protocol.MethodConfigGet] = s.handleConfigGet
	r.handlers[protocol.MethodConfigSet] = s.handleConfigSet
	r.handlers[protocol.MethodDoctorAudit] = s.handleDoctorAudit
	r.handlers[protocol.MethodApprovalGrant] = s.handleApprovalGrant
	return r
}

// Dispatch runs the handler for req and builds the response frame.
func (r *Router) Dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	method := protocol.MethodName(req.Type)

	if r.s.inst != nil {
		r.s.inst.RPCRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
	}

	h, ok := r.handlers[req.Type]
	if !ok {
		r.countError(ctx, method, protocol.CodeNoSuchMethod)
		return protocol.NewErrorResponse(method, req.ID,
			&protocol.Error{Code: protocol.CodeNoSuchMethod, Message: req.Type})
	}

	payload, perr := r.invoke(ctx, h, req.Payload)
	if perr != nil {
		r.countError(ctx, method, perr.Code)
		slog.Warn("rpc failed", "method", method, "code", perr.Code, "message", perr.Message)
		return protocol.NewErrorResponse(method, req.ID, perr)
	}
	return protocol.NewResponse(method, req.ID, payload)
}

func (r *Router) invoke(ctx context.Context, h HandlerFunc, payload json.RawMessage) (out any, perr *protocol.Error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("rpc handler panicked", "panic", rec)
			out, perr = nil, &protocol.Error{Code: protocol.CodeInternal, Message: "rpc_failed"}
		}
	}()
	return h(ctx, payload)
}

func (r *Router) countError(ctx context.Context, method, code string) {
	if r.s.inst == nil {
		return
	}
	r.s.inst.RPCErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("code", code),
	))
}

// decode unmarshals a payload into dst, tolerating an absent payload.
func decode(payload json.RawMessage, dst any) *protocol.Error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return protocol.BadRequest("invalid payload: " + err.Error())
	}
	return nil
}
