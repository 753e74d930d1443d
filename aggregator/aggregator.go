// Package aggregator implements the Event Aggregator of spec §4.E: a
// single long-lived subscriber across all five Event Bus channels that
// persists what must be durable and transitions job state on terminal
// errors, grounded on manager.go's OnStarted/OnOutput/OnExited
// callback-to-persist pattern (there: process lifecycle callbacks write
// to the store; here: bus events do).
package aggregator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/videopipe/orchestrator/eventbus"
	"github.com/videopipe/orchestrator/job"
	"github.com/videopipe/orchestrator/store"
)

// Forwarder receives every event after the aggregator's own persistence
// rule has run, decoded payload included, so it can fan out to
// subscribed real-time clients (the Subscription Gateway). It must not
// block.
type Forwarder interface {
	Forward(ev eventbus.Event, payload any)
}

// Aggregator wires itself onto a Bus's five channels and applies spec
// §4.E's per-channel rule to each event it sees.
type Aggregator struct {
	bus   *eventbus.Bus
	st    store.Store
	fwd   Forwarder
	log   *slog.Logger
	subs  []eventbus.Subscription
}

// New constructs an Aggregator. Call Start to begin consuming events.
func New(bus *eventbus.Bus, st store.Store, fwd Forwarder, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{bus: bus, st: st, fwd: fwd, log: log}
}

// Start subscribes to all five channels. It is not idempotent: calling
// it twice doubles delivery, so call it once.
func (a *Aggregator) Start() {
	a.subs = a.bus.SubscribeAll(a.handle)
}

// Stop cancels every subscription this Aggregator holds.
func (a *Aggregator) Stop() {
	for _, s := range a.subs {
		s.Cancel()
	}
}

func (a *Aggregator) handle(ctx context.Context, ev eventbus.Event) {
	switch ev.Channel {
	case eventbus.ChannelProgress:
		a.handleProgress(ctx, ev)
	case eventbus.ChannelState:
		a.handleState(ctx, ev)
	case eventbus.ChannelLog:
		a.handleLog(ctx, ev)
	case eventbus.ChannelError:
		a.handleError(ctx, ev)
	case eventbus.ChannelMetadata:
		a.handleMetadata(ctx, ev)
	}
}

// progress: no persist, forward only (spec §4.E).
func (a *Aggregator) handleProgress(ctx context.Context, ev eventbus.Event) {
	var p eventbus.ProgressPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		a.log.Warn("aggregator: bad progress payload", "job", ev.JobID, "error", err)
		return
	}
	a.forward(ev, p)
}

// state_change: persist an event row, clear the job's stored error when
// the new status isn't failed, and forward (spec §4.E).
func (a *Aggregator) handleState(ctx context.Context, ev eventbus.Event) {
	var p eventbus.StatePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		a.log.Warn("aggregator: bad state payload", "job", ev.JobID, "error", err)
		return
	}
	if _, err := a.st.AppendEvent(ctx, ev.JobID, store.EventStateChange, ev.Payload); err != nil {
		a.log.Error("aggregator: append state_change event failed", "job", ev.JobID, "error", err)
	}

	to := job.Status(p.To)
	var clearErr *string
	if to != job.StatusFailed {
		empty := ""
		clearErr = &empty
	}
	if err := a.st.UpdateJobStatus(ctx, ev.JobID, to, clearErr); err != nil {
		a.log.Error("aggregator: update job status failed", "job", ev.JobID, "to", to, "error", err)
	}
	a.forward(ev, p)
}

// log: persist, forward (spec §4.E).
func (a *Aggregator) handleLog(ctx context.Context, ev eventbus.Event) {
	var p eventbus.LogPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		a.log.Warn("aggregator: bad log payload", "job", ev.JobID, "error", err)
		return
	}
	if _, err := a.st.AppendEvent(ctx, ev.JobID, store.EventLog, ev.Payload); err != nil {
		a.log.Error("aggregator: append log event failed", "job", ev.JobID, "error", err)
	}
	a.forward(ev, p)
}

// error: persist; a non-retryable error also transitions the job to
// failed (spec §4.E). Forward either way.
func (a *Aggregator) handleError(ctx context.Context, ev eventbus.Event) {
	var p eventbus.ErrorPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		a.log.Warn("aggregator: bad error payload", "job", ev.JobID, "error", err)
		return
	}
	if _, err := a.st.AppendEvent(ctx, ev.JobID, store.EventError, ev.Payload); err != nil {
		a.log.Error("aggregator: append error event failed", "job", ev.JobID, "error", err)
	}
	if !p.Retryable {
		msg := p.Message
		if err := a.st.UpdateJobStatus(ctx, ev.JobID, job.StatusFailed, &msg); err != nil {
			a.log.Error("aggregator: transition to failed failed", "job", ev.JobID, "error", err)
		}
	}
	a.forward(ev, p)
}

// metadata: partial media update, no persisted event row, no forward
// (spec §4.E — metadata is a live sidecar, not an audited fact).
func (a *Aggregator) handleMetadata(ctx context.Context, ev eventbus.Event) {
	var p eventbus.MetadataPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		a.log.Warn("aggregator: bad metadata payload", "job", ev.JobID, "error", err)
		return
	}
	upd := store.MediaUpdate{
		VideoPath:          p.VideoPath,
		AudioOriginal:      p.AudioOriginal,
		AudioDubbedPath:    p.AudioDubbedPath,
		AudioMixedPath:     p.AudioMixedPath,
		TempDir:            p.TempDir,
		DurationSeconds:    p.DurationSeconds,
		Resolution:         p.Resolution,
		FPS:                p.FPS,
		VideoCodec:         p.VideoCodec,
		AudioCodec:         p.AudioCodec,
		FileSizeBytes:      p.FileSizeBytes,
		SourceID:           p.SourceID,
		SourceTitle:        p.SourceTitle,
		SourceUploader:     p.SourceUploader,
		SourceUploadDate:   p.SourceUploadDate,
		SourceDescription:  p.SourceDescription,
		SourceThumbnailURL: p.SourceThumbnailURL,
	}
	if err := a.st.UpdateMedia(ctx, ev.JobID, upd); err != nil {
		a.log.Error("aggregator: update media failed", "job", ev.JobID, "error", err)
	}
}

func (a *Aggregator) forward(ev eventbus.Event, payload any) {
	if a.fwd == nil {
		return
	}
	a.fwd.Forward(ev, payload)
}
