// Package eventbus implements the in-process pub/sub Event Bus of spec
// §4.C: five typed, fan-out channels with at-most-once, best-effort
// delivery to subscribers live at publish time. Durability is not this
// package's concern — see package aggregator.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/videopipe/orchestrator/jobid"
)

// Channel is one of the five fixed topics from spec §4.C.
type Channel string

const (
	ChannelProgress Channel = "progress"
	ChannelState    Channel = "state"
	ChannelLog      Channel = "log"
	ChannelError    Channel = "error"
	ChannelMetadata Channel = "metadata"
)

// Event is the envelope every message carries (spec §4.C: "every message
// carries {jobId, kind, timestamp, payload}").
type Event struct {
	JobID     jobid.ID        `json:"jobId"`
	Channel   Channel         `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Handler processes one event. It must not block for long — the bus
// delivers on a best-effort, buffered-channel basis and a slow handler
// only delays its own subscription, not others.
type Handler func(ctx context.Context, ev Event)

// Subscription can be canceled to stop receiving further events.
type Subscription interface {
	Cancel()
}

type subscription struct {
	id      string
	channel Channel
	handler Handler
	eventCh chan Event
	done    chan struct{}
	mu      sync.RWMutex
	cancelled bool
}

func (s *subscription) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	close(s.done)
}

func (s *subscription) isCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// Bus is the Event Bus: a fan-out publisher over the five fixed
// channels. The zero value is not usable; use New.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[Channel]map[string]*subscription
	bufferSize    int
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New constructs a running Bus. Call Stop to shut it down.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subscriptions: make(map[Channel]map[string]*subscription),
		bufferSize:    bufferSize,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Stop cancels all subscriptions and waits for handler goroutines to
// exit.
func (b *Bus) Stop() {
	b.cancel()
	b.wg.Wait()
}

// Publish delivers ev to every live subscriber of ev.Channel. Delivery is
// "drop" mode: a subscriber whose buffer is full misses the message
// rather than blocking the publisher, matching spec §4.C's "best-effort"
// at-most-once language.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscriptions[ev.Channel]))
	for _, s := range b.subscriptions[ev.Channel] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.isCancelled() {
			continue
		}
		select {
		case s.eventCh <- ev:
		default:
			// buffer full: dropped, per at-most-once/best-effort contract.
		}
	}
}

// Subscribe registers handler to receive every event published on
// channel from now on.
func (b *Bus) Subscribe(channel Channel, handler Handler) Subscription {
	sub := &subscription{
		id:      uuid.New().String(),
		channel: channel,
		handler: handler,
		eventCh: make(chan Event, b.bufferSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.subscriptions[channel] == nil {
		b.subscriptions[channel] = make(map[string]*subscription)
	}
	b.subscriptions[channel][sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.pump(sub)
	return sub
}

func (b *Bus) pump(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-sub.done:
			return
		case ev := <-sub.eventCh:
			if sub.isCancelled() {
				return
			}
			sub.handler(b.ctx, ev)
		}
	}
}

// SubscribeAll registers handler on every one of the five fixed
// channels; this is how the Event Aggregator attaches (spec §4.E: "a
// single long-lived subscriber to all five channels").
func (b *Bus) SubscribeAll(handler Handler) []Subscription {
	channels := []Channel{ChannelProgress, ChannelState, ChannelLog, ChannelError, ChannelMetadata}
	subs := make([]Subscription, 0, len(channels))
	for _, c := range channels {
		subs = append(subs, b.Subscribe(c, handler))
	}
	return subs
}
