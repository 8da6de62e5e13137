package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunInvokesReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg.bin")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded := make(chan string, 4)
	w, err := New(path, func(p string) error {
		reloaded <- p
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected reload callback after write")
	}

	cancel()
	<-done
}
