// Package subscription implements the Subscription Gateway of spec §4.F:
// per-client, reference-counted job-id subscription sets and fan-out
// "rooms," grounded on manager.go's Subscribe/Unsubscribe 0↔1-transition
// pattern (there: start/stop a worker; here: join/leave a broadcast
// room).
package subscription

import (
	"sync"

	"github.com/videopipe/orchestrator/eventbus"
	"github.com/videopipe/orchestrator/jobid"
)

// ClientID identifies one connected real-time client (one websocket
// connection).
type ClientID string

// Sink is how the Gateway delivers a message to one client; the Control
// API's websocket handler supplies this.
type Sink func(msg any)

type client struct {
	id     ClientID
	sink   Sink
	counts map[jobid.ID]int
}

// Gateway holds every connected client's subscription set and the
// reverse job→clients room index.
type Gateway struct {
	mu      sync.RWMutex
	clients map[ClientID]*client
	rooms   map[jobid.ID]map[ClientID]struct{}
}

// New constructs an empty Gateway.
func New() *Gateway {
	return &Gateway{
		clients: make(map[ClientID]*client),
		rooms:   make(map[jobid.ID]map[ClientID]struct{}),
	}
}

// Connect registers a new client with its delivery sink. Call Disconnect
// when the underlying connection closes.
func (g *Gateway) Connect(id ClientID, sink Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[id] = &client{id: id, sink: sink, counts: make(map[jobid.ID]int)}
}

// Disconnect clears every reference count held by id and leaves every
// room it was in (spec §4.F).
func (g *Gateway) Disconnect(id ClientID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[id]
	if !ok {
		return
	}
	for jobID := range c.counts {
		if room, ok := g.rooms[jobID]; ok {
			delete(room, id)
			if len(room) == 0 {
				delete(g.rooms, jobID)
			}
		}
	}
	delete(g.clients, id)
}

// Subscribe increments id's reference count for each job id; a 0→1
// transition joins the client into that job's room (spec §4.F).
func (g *Gateway) Subscribe(id ClientID, jobIDs []jobid.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[id]
	if !ok {
		return
	}
	for _, jobID := range jobIDs {
		c.counts[jobID]++
		if c.counts[jobID] == 1 {
			if g.rooms[jobID] == nil {
				g.rooms[jobID] = make(map[ClientID]struct{})
			}
			g.rooms[jobID][id] = struct{}{}
		}
	}
}

// Unsubscribe decrements id's reference count for each job id; a 1→0
// transition leaves that job's room.
func (g *Gateway) Unsubscribe(id ClientID, jobIDs []jobid.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[id]
	if !ok {
		return
	}
	for _, jobID := range jobIDs {
		if c.counts[jobID] <= 0 {
			continue
		}
		c.counts[jobID]--
		if c.counts[jobID] == 0 {
			delete(c.counts, jobID)
			if room, ok := g.rooms[jobID]; ok {
				delete(room, id)
				if len(room) == 0 {
					delete(g.rooms, jobID)
				}
			}
		}
	}
}

// realtimeMessage is the shape delivered to subscribed clients (spec
// §6.2): {jobId, type, timestamp, payload}.
type realtimeMessage struct {
	JobID     jobid.ID    `json:"jobId"`
	Type      string      `json:"type"`
	Timestamp any         `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// Forward delivers ev to every client currently in ev.JobID's room
// exactly once each (spec §4.F's contract).
func (g *Gateway) Forward(ev eventbus.Event, payload any) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[ev.JobID]
	if !ok {
		return
	}
	msg := realtimeMessage{JobID: ev.JobID, Type: string(ev.Channel), Timestamp: ev.Timestamp, Payload: payload}
	for id := range room {
		if c, ok := g.clients[id]; ok {
			c.sink(msg)
		}
	}
}

// Broadcast delivers msg to every connected client regardless of
// subscription (spec §6.2: job_added, job_removed, notification).
func (g *Gateway) Broadcast(msgType string, payload any) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	msg := map[string]any{"type": msgType, "payload": payload}
	for _, c := range g.clients {
		c.sink(msg)
	}
}
