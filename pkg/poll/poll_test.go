package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
)

type fakeExporter struct {
	mu     sync.Mutex
	events int
}

func (f *fakeExporter) RenderEvent(raw []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events++
	return "", nil
}

func (f *fakeExporter) RenderSample(key, value []byte) (string, error) {
	return "", nil
}

// S5 — destroy during poll: a NoExport loop must observe the exit flag
// within its cooperative boundary and Destroy must block until it does.
func TestDestroyDuringNoExportPoll(t *testing.T) {
	s := &Supervisor{
		Tree: &metamodel.Tree{PollTimeoutMs: 100},
		Sel:  &Selected{Channel: ChannelNoExport},
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	// Give the loop a moment to start and observe Running().
	deadline := time.Now().Add(time.Second)
	for !s.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.Running() {
		t.Fatalf("expected loop to report Running before destroy")
	}

	s.Destroy()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Destroy")
	}

	if s.Running() {
		t.Fatalf("expected Running to be false after loop exit")
	}
}

func TestPauseResumeFlags(t *testing.T) {
	s := &Supervisor{}
	if s.paused.Load() {
		t.Fatalf("expected not paused initially")
	}
	s.Pause()
	if !s.paused.Load() {
		t.Fatalf("expected paused after Pause")
	}
	s.Resume()
	if s.paused.Load() {
		t.Fatalf("expected not paused after Resume")
	}
}

// classifyOne short-circuits on a non-nil Sample field before it ever
// touches the *ebpf.Map argument, so a nil map is safe to pass here —
// this exercises the rule-1 priority without needing a live collection.
func TestClassifyOneSampleTakesPriority(t *testing.T) {
	mm := metamodel.MapMeta{Name: "hist", Sample: &metamodel.Sample{IntervalMs: 1000}}
	if got := classifyOne(mm, nil, true); got != ChannelSample {
		t.Fatalf("expected ChannelSample, got %v", got)
	}
}

