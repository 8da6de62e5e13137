//go:build linux

package skeleton

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/config"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/export"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/poll"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/sectionpatch"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/typeresolve"
)

// linuxLoader holds everything the facade needs after a successful
// load-and-attach: the live collection, its attach handles, and the
// polling supervisor that will drive the export loop.
type linuxLoader struct {
	objectBytes []byte
	tree        *metamodel.Tree

	spec    *ebpf.CollectionSpec
	coll    *ebpf.Collection
	btfSpec *btf.Spec
	links   []link.Link

	resolver   *typeresolve.Resolver
	supervisor *poll.Supervisor
	auditSink  export.AuditSink
}

func newLinuxLoader(objectBytes []byte, tree *metamodel.Tree) *linuxLoader {
	return &linuxLoader{objectBytes: objectBytes, tree: tree}
}

func (l *linuxLoader) loadAndAttach(ctx context.Context, btfFilePath string) error {
	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(l.objectBytes))
	if err != nil {
		return errs.Wrap(errs.LoadFailed, err, "parse eBPF object")
	}
	l.spec = spec

	if err := sectionpatch.Patch(spec, l.tree); err != nil {
		return errs.Wrap(errs.LoadFailed, err, "patch data sections")
	}

	btfCfg := config.LoadFromEnv().BTF
	loader := newBTFLoader(btfCfg, btfFilePath)
	btfSpec, source, err := loader.LoadSpec(ctx)
	if err != nil {
		return errs.Wrap(errs.MissingKernelTypeInfo, err, "resolve kernel BTF")
	}
	if l.tree.DebugVerbose {
		log.Printf("[skeleton] loaded BTF from %s", source)
	}
	l.btfSpec = btfSpec

	coll, err := ebpf.NewCollectionWithOptions(spec, ebpf.CollectionOptions{
		Programs: ebpf.ProgramOptions{KernelTypes: btfSpec},
	})
	if err != nil {
		return errs.Wrap(errs.LoadFailed, err, "load eBPF collection")
	}
	l.coll = coll

	resolver, err := typeresolve.New(btfSpec)
	if err != nil {
		return err
	}
	l.resolver = resolver

	if err := l.attachPrograms(); err != nil {
		return err
	}
	if err := l.attachTC(); err != nil {
		return err
	}

	l.supervisor = &poll.Supervisor{Tree: l.tree}

	return nil
}

// attachPrograms auto-attaches every non-tc program by its compiled
// section name, mirroring libbpf's bpf_program__attach() convention
// (kprobe/, kretprobe/, tracepoint/, raw_tracepoint/ prefixes).
func (l *linuxLoader) attachPrograms() error {
	for _, pm := range l.tree.Progs {
		if pm.Attach == "tc" {
			continue // handled by the post-attach TC specialization hook
		}

		prog := l.coll.Programs[pm.Name]
		progSpec := l.spec.Programs[pm.Name]
		if prog == nil || progSpec == nil {
			log.Printf("[skeleton] program %q not present in object, skipping attach", pm.Name)
			continue
		}

		lnk, err := attachBySection(progSpec.SectionName, prog)
		if err != nil {
			return errs.Wrap(errs.AttachFailed, err, "attach program %q", pm.Name)
		}
		if pm.Link && lnk != nil {
			l.links = append(l.links, lnk)
		}
	}
	return nil
}

func attachBySection(section string, prog *ebpf.Program) (link.Link, error) {
	switch {
	case strings.HasPrefix(section, "kprobe/"):
		return link.Kprobe(strings.TrimPrefix(section, "kprobe/"), prog, nil)
	case strings.HasPrefix(section, "kretprobe/"):
		return link.Kretprobe(strings.TrimPrefix(section, "kretprobe/"), prog, nil)
	case strings.HasPrefix(section, "tracepoint/"), strings.HasPrefix(section, "tp/"):
		rest := strings.TrimPrefix(strings.TrimPrefix(section, "tracepoint/"), "tp/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed tracepoint section %q", section)
		}
		return link.Tracepoint(parts[0], parts[1], prog, nil)
	case strings.HasPrefix(section, "raw_tracepoint/"), strings.HasPrefix(section, "raw_tp/"):
		name := strings.TrimPrefix(strings.TrimPrefix(section, "raw_tracepoint/"), "raw_tp/")
		return link.AttachRawTracepoint(link.RawTracepointOptions{Name: name, Program: prog})
	default:
		log.Printf("[skeleton] no auto-attach rule for section %q, program left detached", section)
		return nil, nil
	}
}

func (l *linuxLoader) run(ctx context.Context, format export.Format, cb Callback, cbCtx any) error {
	sel, err := poll.Classify(l.tree, l.coll)
	if err != nil {
		return err
	}
	l.supervisor.Sel = sel

	exporter, err := l.buildExporter(format, sel)
	if err != nil {
		return err
	}
	if cb != nil {
		exporter.SetSink(cbCtx, export.Sink(cb))
	}
	if l.auditSink != nil {
		exporter.SetAuditSink(l.auditSink)
	}
	if format == export.FormatPlain {
		exporter.EmitHeader()
	}
	l.supervisor.Exporter = exporter

	return l.supervisor.Run(ctx)
}

func (l *linuxLoader) buildExporter(format export.Format, sel *poll.Selected) (*export.Exporter, error) {
	switch sel.Channel {
	case poll.ChannelSample:
		mapSpec := l.spec.Maps[sel.MapMeta.Name]
		var valueMeta []metamodel.ExportMember
		for _, et := range l.tree.ExportTypes {
			valueMeta = et.Members
			break
		}
		return export.NewForSample(format, l.tree.PrintHeader, mapSpec.Key, mapSpec.Value, sel.MapMeta.Sample, valueMeta)

	case poll.ChannelRingBuf, poll.ChannelPerfArray:
		if len(l.tree.ExportTypes) == 0 {
			return nil, errs.New(errs.NoMatchingMembers, "export channel classified but export_types is empty")
		}
		et := l.tree.ExportTypes[0]
		id, _, err := l.resolver.StructByName(et.Name)
		if err != nil {
			return nil, err
		}
		return export.NewForEvent(format, l.tree.PrintHeader, l.resolver, id, et.Members)

	default:
		return &export.Exporter{Format: format, PrintHeader: l.tree.PrintHeader}, nil
	}
}

func (l *linuxLoader) destroy() {
	if l.supervisor != nil {
		l.supervisor.Destroy()
	}
	for _, lnk := range l.links {
		_ = lnk.Close()
	}
	l.links = nil
	if l.coll != nil {
		l.coll.Close()
	}
	if l.btfSpec != nil {
		l.btfSpec.Close()
	}
}

func (l *linuxLoader) pause() {
	if l.supervisor != nil {
		l.supervisor.Pause()
	}
}

func (l *linuxLoader) resume() {
	if l.supervisor != nil {
		l.supervisor.Resume()
	}
}

func (l *linuxLoader) running() bool {
	return l.supervisor != nil && l.supervisor.Running()
}

func (l *linuxLoader) setAudit(a export.AuditSink) {
	l.auditSink = a
}

func (l *linuxLoader) fdByName(name string) int {
	if l.coll == nil {
		return -1
	}
	if m, ok := l.coll.Maps[name]; ok {
		return m.FD()
	}
	if p, ok := l.coll.Programs[name]; ok {
		return p.FD()
	}
	return -1
}
