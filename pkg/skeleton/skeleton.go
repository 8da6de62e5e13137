// Package skeleton is the facade assembled from every other package
// behind a small state machine: open, load-and-attach, poll, destroy,
// get-fd. It is the single object embedding hosts and CLI front-ends
// talk to.
package skeleton

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/metrics"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/export"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/pkgcodec"
)

// State is one of the four skeleton lifecycle states.
type State int

const (
	StateInit State = iota
	StateRunning
	StateStopped
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "INVALID"
	}
}

// Format selects the rendering mode passed to wait_and_poll_to_handler,
// mirroring the outward ABI's format tag.
type Format = export.Format

const (
	FormatPlain = export.FormatPlain
	FormatJSON  = export.FormatJSON
	FormatRaw   = export.FormatRaw
)

// Callback mirrors the ABI's (ctx, bytes, length) sink signature.
type Callback func(ctx any, data []byte)

// Skeleton assembles the codec, meta model, section patcher, type
// resolver, exporter and polling supervisor behind the §4.8 lifecycle
// state machine. Errors is the thread-local-shaped error channel
// collaborators read after any failing call on this skeleton.
type Skeleton struct {
	mu     sync.Mutex
	state  State
	Errors errs.Channel

	name string
	tree *metamodel.Tree

	loader *linuxLoader // nil only on a skeleton that failed to open (INVALID)
}

// Open decodes pkg, parses its meta, and transitions INIT/INVALID.
func Open(pkgText []byte) (*Skeleton, error) {
	decoded, err := pkgcodec.Open(pkgText)
	if err != nil {
		return invalidSkeleton(err), err
	}
	return openDecoded(decoded.ObjectBytes, decoded.MetaJSON)
}

// OpenDirect builds a skeleton from already-separated object bytes and
// meta text, skipping decode/inflate.
func OpenDirect(objectBytes, metaText []byte) (*Skeleton, error) {
	return openDecoded(objectBytes, metaText)
}

func openDecoded(objectBytes, metaJSON []byte) (*Skeleton, error) {
	tree, err := metamodel.Parse(metaJSON)
	if err != nil {
		return invalidSkeleton(err), err
	}

	s := &Skeleton{
		state: StateInit,
		name:  tree.ObjName,
		tree:  tree,
	}
	s.loader = newLinuxLoader(objectBytes, tree)
	return s, nil
}

func invalidSkeleton(err error) *Skeleton {
	s := &Skeleton{state: StateInvalid}
	s.Errors.Set(err)
	return s
}

// State reports the current lifecycle state.
func (s *Skeleton) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the meta tree's obj_name.
func (s *Skeleton) Name() string { return s.name }

// Tree exposes the parsed meta tree, e.g. for an ArgSchemaBinder pass
// before LoadAndAttach.
func (s *Skeleton) Tree() *metamodel.Tree { return s.tree }

// LoadAndAttach performs the kernel load and attach step. Idempotent
// from RUNNING; any failure forces INVALID per §4.8's state-machine
// failure mode. btfFilePath, if non-empty, takes precedence over system
// BTF discovery (the BTF_FILE_PATH environment contract is read by the
// caller — see cmd/run.go — and passed through here).
func (s *Skeleton) LoadAndAttach(ctx context.Context, btfFilePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return nil
	case StateInvalid:
		return errs.New(errs.InvalidState, "skeleton %q is INVALID", s.name)
	case StateStopped:
		return errs.New(errs.InvalidState, "skeleton %q already STOPPED", s.name)
	}

	start := time.Now()
	if err := s.loader.loadAndAttach(ctx, btfFilePath); err != nil {
		s.state = StateInvalid
		s.Errors.Set(err)
		metrics.ObserveAttach(start, attachOutcome(err))
		return err
	}
	metrics.ObserveAttach(start, "ok")

	s.state = StateRunning
	return nil
}

func attachOutcome(err error) string {
	kind, ok := errs.KindOf(err)
	if !ok {
		return "error"
	}
	switch kind {
	case errs.LoadFailed:
		return "load_failed"
	case errs.AttachFailed:
		return "attach_failed"
	case errs.MissingKernelTypeInfo:
		return "missing_btf"
	default:
		return "error"
	}
}

// WaitAndPollToHandler must be called on RUNNING; it blocks until the
// poll loop exits (cancellation, fatal error, or NoExport idle-wake).
func (s *Skeleton) WaitAndPollToHandler(ctx context.Context, format Format, cb Callback, cbCtx any) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return errs.New(errs.InvalidState, "wait_and_poll_to_handler requires RUNNING, got %s", s.state)
	}
	loader := s.loader
	s.mu.Unlock()

	return loader.run(ctx, format, cb, cbCtx)
}

// Destroy is idempotent: sets the cooperative exit flag, waits for the
// poll loop's mutex handshake, then transitions to STOPPED. A no-op
// from INIT.
func (s *Skeleton) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateInit, StateStopped, StateInvalid:
		return
	}

	s.loader.destroy()
	s.state = StateStopped
}

// SetAuditSink installs an optional persistence sink, forwarded to the
// Exporter built on the next WaitAndPollToHandler call.
func (s *Skeleton) SetAuditSink(a export.AuditSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loader != nil {
		s.loader.setAudit(a)
	}
}

// GetFD returns the file descriptor of the map or program whose meta
// name matches, or -1 if not found.
func (s *Skeleton) GetFD(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loader == nil {
		return -1
	}
	return s.loader.fdByName(name)
}

var errUnsupportedPlatform = fmt.Errorf("eBPF load/attach is only supported on Linux")
