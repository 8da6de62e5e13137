// Package abi is the outward, C-ABI-shaped boundary described in §6:
// an opaque integer handle table over *skeleton.Skeleton, so embedding
// hosts and CLI front-ends that expect argv-style open/poll/destroy
// entry points have a stable, cgo-free surface to call through.
package abi

import (
	"context"
	"sync"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/argschema"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/export"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/skeleton"
)

// Handle is an opaque identifier for a live skeleton, standing in for a
// C ABI's pointer-sized handle.
type Handle int32

const InvalidHandle Handle = -1

// FormatTag mirrors wait-and-poll-to-handler's format parameter.
type FormatTag int

const (
	FormatTagPlain FormatTag = 0
	FormatTagJSON  FormatTag = 1
	FormatTagRaw   FormatTag = 2
)

func (f FormatTag) toFormat() export.Format {
	switch f {
	case FormatTagJSON:
		return export.FormatJSON
	case FormatTagRaw:
		return export.FormatRaw
	default:
		return export.FormatPlain
	}
}

// table is the process-wide handle → skeleton map.
type table struct {
	mu   sync.Mutex
	next Handle
	rows map[Handle]*skeleton.Skeleton
}

var t = &table{rows: make(map[Handle]*skeleton.Skeleton)}

func (t *table) insert(s *skeleton.Skeleton) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.rows[h] = s
	return h
}

func (t *table) get(h Handle) (*skeleton.Skeleton, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.rows[h]
	return s, ok
}

func (t *table) remove(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, h)
}

// OpenFromPackage is open-from-package.
func OpenFromPackage(pkgText []byte) (Handle, error) {
	s, err := skeleton.Open(pkgText)
	if err != nil {
		return InvalidHandle, err
	}
	return t.insert(s), nil
}

// OpenFromPackageWithBTFPath is open-from-package-with-btf-path: the
// path is threaded through to LoadAndAttach rather than applied at
// open time, since §4.8 reads BTF_FILE_PATH at load, not at open.
func OpenFromPackageWithBTFPath(pkgText []byte, btfFilePath string) (Handle, error) {
	h, err := OpenFromPackage(pkgText)
	if err != nil {
		return h, err
	}
	pendingBTFPath.Store(h, btfFilePath)
	return h, nil
}

// OpenFromPackageWithArgs is open-from-package-with-args: runs the
// ArgSchemaBinder over the package's meta before constructing the
// skeleton, argv[0] is the conventional program-name token.
func OpenFromPackageWithArgs(pkgText []byte, argv []string) (Handle, argschema.Outcome, error) {
	s, err := skeleton.Open(pkgText)
	if err != nil {
		return InvalidHandle, argschema.OutcomeContinue, err
	}

	tree := s.Tree()
	res, err := argschema.Bind(tree, argv)
	if err != nil {
		return InvalidHandle, argschema.OutcomeContinue, err
	}
	if res.Outcome != argschema.OutcomeContinue {
		return InvalidHandle, res.Outcome, nil
	}

	return t.insert(s), argschema.OutcomeContinue, nil
}

// OpenFromMetaAndObject is open-from-meta-and-object.
func OpenFromMetaAndObject(metaText, objectBytes []byte) (Handle, error) {
	s, err := skeleton.OpenDirect(objectBytes, metaText)
	if err != nil {
		return InvalidHandle, err
	}
	return t.insert(s), nil
}

var pendingBTFPath sync.Map // Handle -> string

// LoadAndAttach is load-and-attach.
func LoadAndAttach(ctx context.Context, h Handle) error {
	s, ok := t.get(h)
	if !ok {
		return errs.New(errs.InvalidState, "unknown handle")
	}
	btfPath := ""
	if v, ok := pendingBTFPath.Load(h); ok {
		btfPath, _ = v.(string)
	}
	return s.LoadAndAttach(ctx, btfPath)
}

// WaitAndPollToHandler is wait-and-poll-to-handler; cb receives
// (ctx, bytes) per record, mirroring the ABI's (ctx, bytes, length)
// callback shape (length is len(bytes) in Go).
func WaitAndPollToHandler(ctx context.Context, h Handle, format FormatTag, cb func(cbCtx any, data []byte), cbCtx any) error {
	s, ok := t.get(h)
	if !ok {
		return errs.New(errs.InvalidState, "unknown handle")
	}
	return s.WaitAndPollToHandler(ctx, format.toFormat(), skeleton.Callback(cb), cbCtx)
}

// Destroy is destroy; releases the handle slot regardless of outcome.
func Destroy(h Handle) {
	s, ok := t.get(h)
	if !ok {
		return
	}
	s.Destroy()
	t.remove(h)
	pendingBTFPath.Delete(h)
}

// GetFDByName is get-fd-by-name.
func GetFDByName(h Handle, name string) int {
	s, ok := t.get(h)
	if !ok {
		return -1
	}
	return s.GetFD(name)
}

// LastError surfaces the handle's thread-local-shaped error channel.
func LastError(h Handle) string {
	s, ok := t.get(h)
	if !ok {
		return "unknown handle"
	}
	return s.Errors.Message()
}

// ParseArgsToJSONConfig is the side utility: runs ArgSchemaBinder over a
// standalone meta document and returns the mutated meta as text, without
// constructing a skeleton.
func ParseArgsToJSONConfig(metaText []byte, argv []string) ([]byte, argschema.Outcome, error) {
	tree, err := metamodel.Parse(metaText)
	if err != nil {
		return nil, argschema.OutcomeContinue, err
	}
	res, err := argschema.Bind(tree, argv)
	if err != nil {
		return nil, argschema.OutcomeContinue, err
	}
	if res.Outcome != argschema.OutcomeContinue {
		return nil, res.Outcome, nil
	}
	out, err := tree.Marshal()
	if err != nil {
		return nil, argschema.OutcomeContinue, err
	}
	return out, argschema.OutcomeContinue, nil
}
