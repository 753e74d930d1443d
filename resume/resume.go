// Package resume implements the Resume Planner of spec §4.D: given a
// failed job's event history and filesystem evidence, decide which
// stage to restart at, or reject the request. No single pack example
// implements this decision table; it is built fresh in the surrounding
// code's idiom.
package resume

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/videopipe/orchestrator/job"
	"github.com/videopipe/orchestrator/jobid"
	"github.com/videopipe/orchestrator/store"
)

// ErrCannotResume is returned when neither branch of the decision table
// matches; the caller must use retry instead.
var ErrCannotResume = errors.New("resume: cannot resume job")

// Stage names the stage a resume restarts at.
type Stage string

const (
	StageDubbing Stage = "dubbing"
	StageMuxing  Stage = "muxing"
)

// Plan is the Resume Planner's decision.
type Plan struct {
	NewStatus   job.Status
	ResumeFrom  Stage
}

// Diagnostic is returned alongside ErrCannotResume so the Control API can
// report why (spec §8 scenario 5: `{downloadCompleted, hasVideo, ...}`).
type Diagnostic struct {
	DownloadCompleted bool `json:"downloadCompleted"`
	HasVideo          bool `json:"hasVideo"`
	DubbingCompleted  bool `json:"dubbingCompleted"`
	HasDubbedAudio    bool `json:"hasDubbedAudio"`
	RequestedDubbing  bool `json:"requestedDubbing"`
}

// fileExister abstracts the filesystem check so tests don't need real
// files; production code passes a thin os.Stat wrapper.
type fileExister interface {
	Exists(path string) bool
}

// osFiles is the production fileExister.
type osFiles struct{}

func (osFiles) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// OSFiles is the default, real-filesystem evidence source.
var OSFiles fileExister = osFiles{}

// Plan inspects rec's event history and jobID's media row and decides
// where to resume, per spec §4.D's decision table (first match wins).
func Plan(ctx context.Context, st store.Store, files fileExister, jobID jobid.ID) (*Plan, *Diagnostic, error) {
	if files == nil {
		files = OSFiles
	}

	reachedDubbed, reachedDownloaded, err := reachedStatuses(ctx, st, jobID)
	if err != nil {
		return nil, nil, err
	}

	media, err := st.GetMedia(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	rec, err := st.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	hasVideo := media != nil && media.VideoPath != nil && files.Exists(*media.VideoPath)
	hasDubbedAudio := media != nil && media.AudioDubbedPath != nil && files.Exists(*media.AudioDubbedPath)

	diag := &Diagnostic{
		DownloadCompleted: reachedDownloaded,
		HasVideo:          hasVideo,
		DubbingCompleted:  reachedDubbed,
		HasDubbedAudio:    hasDubbedAudio,
		RequestedDubbing:  rec.Options.RequestedDubbing,
	}

	switch {
	case reachedDubbed && hasVideo && hasDubbedAudio:
		return &Plan{NewStatus: job.StatusDubbed, ResumeFrom: StageMuxing}, diag, nil
	case reachedDownloaded && hasVideo && rec.Options.RequestedDubbing:
		return &Plan{NewStatus: job.StatusDownloaded, ResumeFrom: StageDubbing}, diag, nil
	default:
		return nil, diag, ErrCannotResume
	}
}

// reachedStatuses scans kind=state_change events for the highest stage
// the job reached before failing.
func reachedStatuses(ctx context.Context, st store.Store, jobID jobid.ID) (reachedDubbed, reachedDownloaded bool, err error) {
	const pageSize = 500
	offset := 0
	for {
		events, total, err := st.ListEvents(ctx, jobID, pageSize, offset)
		if err != nil {
			return false, false, err
		}
		for _, e := range events {
			if e.Kind != store.EventStateChange {
				continue
			}
			var p struct {
				To string `json:"to"`
			}
			if jsonErr := json.Unmarshal(e.Payload, &p); jsonErr != nil {
				continue
			}
			switch job.Status(p.To) {
			case job.StatusDubbed:
				reachedDubbed = true
			case job.StatusDownloaded:
				reachedDownloaded = true
			}
		}
		offset += len(events)
		if offset >= total || len(events) == 0 {
			break
		}
	}
	return reachedDubbed, reachedDownloaded, nil
}

// RetryEventPayload is the payload recorded on the `retry` event row that
// documents the planner's choice (spec §4.D).
type RetryEventPayload struct {
	PreviousStatus job.Status `json:"previousStatus"`
	ResumeFrom     Stage      `json:"resumeFrom"`
}
