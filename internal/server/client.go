package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zankora/agw/internal/bus"
	"github.com/zankora/agw/internal/domain"
	"github.com/zankora/agw/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// client is one control-plane connection: a read loop dispatching RPCs, a
// single writer goroutine, and an event pump feeding it pushed frames.
type client struct {
	s    *Server
	conn *websocket.Conn
	send chan any

	mu         sync.Mutex
	subscribed map[string]bool
}

func newClient(s *Server, conn *websocket.Conn) *client {
	return &client{
		s:          s,
		conn:       conn,
		send:       make(chan any, sendBufferSize),
		subscribed: make(map[string]bool),
	}
}

// subscribe narrows the connection's live stream to the given run.
func (c *client) subscribe(runID string) {
	c.mu.Lock()
	c.subscribed[runID] = true
	c.mu.Unlock()
}

// wants reports whether the live stream should carry ev. An empty
// subscription set means everything.
func (c *client) wants(ev domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscribed) == 0 {
		return true
	}
	return c.subscribed[ev.RunID]
}

// serve runs the connection to completion. It returns when the peer
// disconnects or ctx is cancelled.
func (c *client) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.s.inst != nil {
		c.s.inst.WSConnections.Add(ctx, 1)
		defer c.s.inst.WSConnections.Add(context.Background(), -1)
	}

	// Subscribe before serving any RPC so events emitted right after a
	// response are never missed.
	sub := c.s.gw.Bus().Subscribe()
	defer c.s.gw.Bus().Unsubscribe(sub)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.writeLoop(ctx) }()
	go func() { defer wg.Done(); c.pumpEvents(ctx, sub) }()

	c.readLoop(ctx)
	cancel()
	c.conn.Close()
	wg.Wait()
}

// readLoop parses request frames and dispatches them. Unparseable JSON gets
// a res:error frame; the connection stays up.
func (c *client) readLoop(ctx context.Context) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("ws read ended", "err", err)
			}
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.enqueue(ctx, protocol.NewErrorResponse("error", "",
				&protocol.Error{Code: protocol.CodeBadJSON, Message: "invalid json"}))
			continue
		}
		if req.Type == "" {
			c.enqueue(ctx, protocol.NewErrorResponse("error", req.ID,
				protocol.BadRequest("missing type")))
			continue
		}

		// runs.tail doubles as the live-stream subscription: the response
		// replays history, the side effect narrows the pump.
		if req.Type == protocol.MethodRunsTail {
			var p struct {
				RunID string `json:"run_id"`
			}
			if json.Unmarshal(req.Payload, &p) == nil && p.RunID != "" {
				c.subscribe(p.RunID)
			}
		}

		c.enqueue(ctx, c.s.router.Dispatch(ctx, req))
	}
}

// pumpEvents forwards bus events matching the subscription as evt frames.
func (c *client) pumpEvents(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			if !c.wants(ev) {
				continue
			}
			payload := make(map[string]any, len(ev.Payload)+2)
			for k, v := range ev.Payload {
				payload[k] = v
			}
			payload["run_id"] = ev.RunID
			payload["seq"] = ev.Seq
			c.enqueue(ctx, protocol.EventFrame{
				Type:    protocol.EventPrefix + string(ev.Type),
				ID:      fmt.Sprintf("evt_%d", ev.Seq),
				TS:      protocol.Timestamp(ev.TS),
				Payload: payload,
			})
		}
	}
}

// enqueue hands a frame to the writer, dropping it if the connection is
// going away.
func (c *client) enqueue(ctx context.Context, frame any) {
	select {
	case c.send <- frame:
	case <-ctx.Done():
	}
}

// writeLoop is the single writer on the socket.
func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				slog.Debug("ws write failed", "err", err)
				return
			}
		}
	}
}
