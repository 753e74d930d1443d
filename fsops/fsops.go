// Package fsops implements the Atomic File Lifecycle of spec §4.G/§5:
// path-traversal-safe containment under a media root, temp→final
// directory moves, and cleanup on cancel/delete. Containment checking is
// grounded on router.go's getSourceFileStat sanitization (reject "..",
// then filepath.Clean + HasPrefix containment against the root).
package fsops

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/videopipe/orchestrator/jobid"
)

// ErrPathEscapesRoot is returned whenever a resolved path would land
// outside the configured media root.
var ErrPathEscapesRoot = errors.New("fsops: path escapes media root")

// Layout resolves the two well-known job directories under a media
// root (spec §4.G/§8 scenario 6: "{mediaRoot}/incomplete/{id}/").
type Layout struct {
	Root string
}

// New constructs a Layout rooted at root. root is cleaned at
// construction time so later containment checks are cheap.
func New(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// IncompleteDir is where a job's artifacts live while it is in flight.
func (l Layout) IncompleteDir(id jobid.ID) string {
	return filepath.Join(l.Root, "incomplete", string(id))
}

// CompleteDir is where a job's artifacts land once muxing finishes.
func (l Layout) CompleteDir(id jobid.ID) string {
	return filepath.Join(l.Root, "complete", string(id))
}

// contain rejects ".." components outright, then cleans and verifies
// the result stays under l.Root.
func (l Layout) contain(path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", ErrPathEscapesRoot
	}
	cleaned := filepath.Clean(path)
	if cleaned != l.Root && !strings.HasPrefix(cleaned, l.Root+string(filepath.Separator)) {
		return "", ErrPathEscapesRoot
	}
	return cleaned, nil
}

// EnsureIncomplete creates the job's incomplete directory (spec §8
// scenario 6 waits for this to exist before canceling).
func (l Layout) EnsureIncomplete(id jobid.ID) (string, error) {
	dir, err := l.contain(l.IncompleteDir(id))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Promote atomically moves a job's incomplete directory to complete,
// once muxing finishes successfully.
func (l Layout) Promote(id jobid.ID) (string, error) {
	from, err := l.contain(l.IncompleteDir(id))
	if err != nil {
		return "", err
	}
	to, err := l.contain(l.CompleteDir(id))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(from, to); err != nil {
		return "", err
	}
	return to, nil
}

// CleanupIncomplete removes the incomplete directory; used on cancel
// and as the first step of delete (spec §4.G/§8 scenario 6).
func (l Layout) CleanupIncomplete(id jobid.ID) error {
	dir, err := l.contain(l.IncompleteDir(id))
	if err != nil {
		return err
	}
	return removeIfExists(dir)
}

// CleanupComplete removes the complete directory; used by delete when a
// job finished successfully before being deleted.
func (l Layout) CleanupComplete(id jobid.ID) error {
	dir, err := l.contain(l.CompleteDir(id))
	if err != nil {
		return err
	}
	return removeIfExists(dir)
}

// CleanupAll removes both possible job directories, ignoring whichever
// doesn't exist. delete() always calls this first, regardless of the
// job's terminal state, per spec §4.G.
func (l Layout) CleanupAll(id jobid.ID) error {
	if err := l.CleanupIncomplete(id); err != nil {
		return err
	}
	return l.CleanupComplete(id)
}

// Exists reports whether path exists, treating any stat error as
// nonexistence (used by the Resume Planner's filesystem evidence
// check).
func (l Layout) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func removeIfExists(path string) error {
	err := os.RemoveAll(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
