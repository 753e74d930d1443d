package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/videopipe/orchestrator/jobid"
)

// inbound is the discriminated-union shape of every message a worker
// connection may send back to the Dispatcher, grounded on the overseer
// client's duplex RPC message shape.
type inbound struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	JobID    jobid.ID        `json:"jobId,omitempty"`
	Channel  string          `json:"channel,omitempty"` // progress|state|log|error|metadata
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Envelope is what gets handed to the Event Bus for every inbound
// message carrying an event (spec §4.C: "every message carries
// {jobId, kind, timestamp, payload}").
type Envelope struct {
	JobID     jobid.ID        `json:"jobId"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Sink receives envelopes decoded from worker connections; cmd/server's
// worker pool wires this to the Event Bus's Publish.
type Sink func(ctx context.Context, env Envelope)

// Conn wraps one worker's websocket connection. Workers identify which
// queue they serve at connect time and then loop: receive a dispatched
// job, process it, emit zero or more events. The outcome is reported as
// a state event; Serve ignores any message type other than "accepted"
// and "event".
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	idSeq   atomic.Int64

	pending sync.Map // correlation id -> chan json.RawMessage
}

// NewConn adopts an already-upgraded websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) nextID() string {
	return fmt.Sprintf("d%d", c.idSeq.Add(1))
}

// Dispatch sends a typed payload to the worker and waits (bounded by
// ctx) for a correlated "accepted" acknowledgment. It does not wait for
// job completion — completion is reported asynchronously via events
// routed through Sink.
func (c *Conn) Dispatch(ctx context.Context, action string, payload any) error {
	reqID := c.nextID()
	respCh := make(chan json.RawMessage, 1)
	c.pending.Store(reqID, respCh)
	defer c.pending.Delete(reqID)

	msg := map[string]any{"type": "dispatch", "id": reqID, "action": action, "payload": payload}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dispatch: %w", err)
	}

	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, raw)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write dispatch: %w", err)
	}

	select {
	case <-respCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Second):
		return fmt.Errorf("dispatch %s: no acknowledgment within timeout", action)
	}
}

// Serve reads frames from the worker connection until it closes or errs,
// routing event messages to sink and resolving correlated "accepted"
// acknowledgments. Grounded on overseer.Client.connect's read loop.
func (c *Conn) Serve(ctx context.Context, sink Sink) error {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "accepted":
			if ch, ok := c.pending.LoadAndDelete(msg.ID); ok {
				ch.(chan json.RawMessage) <- msg.Payload
			}
		case "event":
			sink(ctx, Envelope{
				JobID:     msg.JobID,
				Kind:      msg.Channel,
				Timestamp: time.Now(),
				Payload:   msg.Payload,
			})
		default:
			// unsolicited/unknown — ignored, matching overseer's dispatch
			// tolerance for forward-compatible message types.
		}
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.ws.Close() }
