package fsops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/videopipe/orchestrator/jobid"
)

func TestEnsureIncompleteCreatesDirectory(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	id := jobid.New()

	dir, err := l.EnsureIncomplete(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
		t.Fatalf("expected directory to exist: %v", statErr)
	}
}

func TestPromoteMovesDirectory(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	id := jobid.New()

	dir, err := l.EnsureIncomplete(id)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "video.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	to, err := l.Promote(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(to, "video.mp4")); err != nil {
		t.Errorf("expected file to exist at new location: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected incomplete dir to be gone")
	}
}

func TestCleanupIncompleteRemovesDirectory(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	id := jobid.New()

	dir, _ := l.EnsureIncomplete(id)
	if err := l.CleanupIncomplete(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected directory to be removed")
	}
}

func TestCleanupIncompleteIsIdempotentWhenMissing(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	id := jobid.New()

	if err := l.CleanupIncomplete(id); err != nil {
		t.Errorf("expected no error cleaning up nonexistent dir, got %v", err)
	}
}

func TestContainmentRejectsDotDot(t *testing.T) {
	root := t.TempDir()
	l := New(root)

	sep := string(filepath.Separator)
	_, err := l.contain(root + sep + ".." + sep + "escape")
	if err != ErrPathEscapesRoot {
		t.Errorf("expected ErrPathEscapesRoot, got %v", err)
	}
}

func TestContainmentRejectsOutsideRoot(t *testing.T) {
	l := New("/media/root")
	_, err := l.contain("/etc/passwd")
	if err != ErrPathEscapesRoot {
		t.Errorf("expected ErrPathEscapesRoot, got %v", err)
	}
}
