// Package poll is the polling supervisor: it classifies a loaded
// collection's export channel (sample map, ring buffer, perf event
// array, or none), then drives the matching consumer loop, forwarding
// every record to an exporter. Cancellation is cooperative — an atomic
// exit flag checked at every loop boundary, serialized against destroy
// by a mutex the loop holds for its entire run.
package poll

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/ringbuf"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/metrics"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
)

// Channel identifies the classified export mechanism.
type Channel int

const (
	ChannelNoExport Channel = iota
	ChannelSample
	ChannelRingBuf
	ChannelPerfArray
)

func (c Channel) String() string {
	switch c {
	case ChannelSample:
		return "sample"
	case ChannelRingBuf:
		return "ringbuf"
	case ChannelPerfArray:
		return "perfarray"
	default:
		return "noexport"
	}
}

// Exporter is the record sink the supervisor drives. pkg/export.Exporter
// satisfies this directly.
type Exporter interface {
	RenderEvent(raw []byte) (string, error)
	RenderSample(key, value []byte) (string, error)
}

// Selected is the classification outcome: the chosen channel, the
// winning map's meta, and its live *ebpf.Map.
type Selected struct {
	Channel Channel
	MapMeta metamodel.MapMeta
	Map     *ebpf.Map
}

// Classify walks tree.Maps in order, classifying each against coll's
// live maps. Rule priority per map is sample > ring-buffer > perf-array
// > none; across maps, the first non-NoExport match wins, but any later
// non-NoExport match logs "multiple export maps found" and overwrites
// it — the last one sticks, mirroring the source's behavior.
func Classify(tree *metamodel.Tree, coll *ebpf.Collection) (*Selected, error) {
	var sel *Selected

	for _, mm := range tree.Maps {
		m, ok := coll.Maps[mm.Name]
		if !ok {
			continue
		}

		ch := classifyOne(mm, m, len(tree.ExportTypes) > 0)
		if ch == ChannelNoExport {
			continue
		}

		if sel != nil {
			log.Printf("[poll] multiple export maps found: %q overrides %q", mm.Name, sel.MapMeta.Name)
		}
		sel = &Selected{Channel: ch, MapMeta: mm, Map: m}
	}

	if sel == nil {
		return &Selected{Channel: ChannelNoExport}, nil
	}
	return sel, nil
}

func classifyOne(mm metamodel.MapMeta, m *ebpf.Map, hasExportTypes bool) Channel {
	if mm.Sample != nil {
		return ChannelSample
	}
	if m.Type() == ebpf.RingBuf && hasExportTypes {
		return ChannelRingBuf
	}
	if m.Type() == ebpf.PerfEventArray && hasExportTypes {
		return ChannelPerfArray
	}
	return ChannelNoExport
}

// Supervisor drives one classified export channel for the lifetime of a
// single Run call.
type Supervisor struct {
	Tree     *metamodel.Tree
	Sel      *Selected
	Exporter Exporter

	exiting atomic.Bool
	paused  atomic.Bool
	running atomic.Bool
	mu      sync.Mutex
}

// Run blocks until cancellation, a fatal consumer error, or — for
// NoExport — indefinitely until destroy. It holds the loop/destroy
// mutex for its entire duration, so Destroy's Lock()/Unlock() handshake
// observes the loop as fully exited before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)

	switch s.Sel.Channel {
	case ChannelSample:
		return s.runSample(ctx)
	case ChannelRingBuf:
		return s.runRingBuf(ctx)
	case ChannelPerfArray:
		return s.runPerfArray(ctx)
	default:
		return s.runNoExport(ctx)
	}
}

// Destroy sets the exit flag and blocks until the run loop has released
// the loop mutex, guaranteeing the loop (and any local consumer) has
// torn down before the caller transitions skeleton state.
func (s *Supervisor) Destroy() {
	s.exiting.Store(true)
	s.mu.Lock()
	s.mu.Unlock() //nolint:staticcheck // handshake: acquire+release proves the loop returned
}

// Pause causes the active loop to sleep without polling until Resume is
// called.
func (s *Supervisor) Pause() { s.paused.Store(true) }

// Resume clears the pause flag.
func (s *Supervisor) Resume() { s.paused.Store(false) }

// Running reports whether Run is currently executing its loop.
func (s *Supervisor) Running() bool { return s.running.Load() }

func (s *Supervisor) runRingBuf(ctx context.Context) error {
	rd, err := ringbuf.NewReader(s.Sel.Map)
	if err != nil {
		return err
	}
	defer rd.Close()

	timeout := pollTimeout(s.Tree.PollTimeoutMs)

	for {
		if s.exiting.Load() || ctx.Err() != nil {
			return nil
		}
		if s.paused.Load() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_ = rd.SetDeadline(time.Now().Add(timeout))
		record, err := rd.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue // transient timeout: loop boundary, re-check exiting
			}
			log.Printf("[poll] ringbuf read error: %v", err)
			continue
		}

		metrics.ObservePollIteration(ChannelRingBuf.String())
		if _, err := s.Exporter.RenderEvent(record.RawSample); err != nil {
			log.Printf("[poll] render event failed: %v", err)
		}
	}
}

func (s *Supervisor) runPerfArray(ctx context.Context) error {
	pageSize := os.Getpagesize()
	pages := s.Tree.PerfBufferPages
	if pages <= 0 {
		pages = 64
	}

	rd, err := perf.NewReader(s.Sel.Map, pages*pageSize)
	if err != nil {
		return err
	}
	defer rd.Close()

	timeout := pollTimeout(s.Tree.PollTimeoutMs)

	for {
		if s.exiting.Load() || ctx.Err() != nil {
			return nil
		}
		if s.paused.Load() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		rd.SetDeadline(time.Now().Add(timeout))
		record, err := rd.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			log.Printf("[poll] perf read error: %v", err)
			continue
		}
		if record.LostSamples > 0 {
			log.Printf("[poll] lost %d samples (increase perf_buffer_pages)", record.LostSamples)
		}

		metrics.ObservePollIteration(ChannelPerfArray.String())
		if _, err := s.Exporter.RenderEvent(record.RawSample); err != nil {
			log.Printf("[poll] render event failed: %v", err)
		}
	}
}

// runSample sleeps sample.interval_ms, then snapshots the map in two
// passes: one reads every key/value present, then — if clear_map is set
// — a second pass deletes each walked key, so entries that arrive mid-
// read are not missed.
func (s *Supervisor) runSample(ctx context.Context) error {
	sample := s.Sel.MapMeta.Sample
	interval := time.Duration(sample.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	for {
		if s.exiting.Load() || ctx.Err() != nil {
			return nil
		}
		if s.paused.Load() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		if s.exiting.Load() {
			return nil
		}

		keys, err := s.snapshot()
		if err != nil {
			log.Printf("[poll] sample snapshot failed: %v", err)
			continue
		}

		metrics.ObservePollIteration(ChannelSample.String())

		if sample.ClearMap {
			for _, k := range keys {
				_ = s.Sel.Map.Delete(k)
			}
		}
	}
}

func (s *Supervisor) snapshot() ([][]byte, error) {
	var key, value []byte
	it := s.Sel.Map.Iterate()

	var walked [][]byte
	for it.Next(&key, &value) {
		k := append([]byte(nil), key...)
		v := append([]byte(nil), value...)
		walked = append(walked, k)

		if _, err := s.Exporter.RenderSample(k, v); err != nil {
			log.Printf("[poll] render sample failed: %v", err)
		}
	}
	if err := it.Err(); err != nil {
		return walked, err
	}
	return walked, nil
}

func (s *Supervisor) runNoExport(ctx context.Context) error {
	for {
		if s.exiting.Load() || ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func pollTimeout(ms int) time.Duration {
	if ms <= 0 {
		ms = 100
	}
	return time.Duration(ms) * time.Millisecond
}
