//go:build !linux

package skeleton

import (
	"context"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/export"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
)

// linuxLoader is a stand-in on non-Linux platforms: eBPF load/attach
// requires a Linux kernel, so load/attach and poll report
// errUnsupportedPlatform, fdByName returns -1, and the remaining
// operations do nothing.
type linuxLoader struct{}

func newLinuxLoader(objectBytes []byte, tree *metamodel.Tree) *linuxLoader {
	return &linuxLoader{}
}

func (l *linuxLoader) loadAndAttach(ctx context.Context, btfFilePath string) error {
	return errUnsupportedPlatform
}

func (l *linuxLoader) run(ctx context.Context, format export.Format, cb Callback, cbCtx any) error {
	return errUnsupportedPlatform
}

func (l *linuxLoader) destroy() {}

func (l *linuxLoader) fdByName(name string) int { return -1 }

func (l *linuxLoader) pause()        {}
func (l *linuxLoader) resume()       {}
func (l *linuxLoader) running() bool { return false }

func (l *linuxLoader) setAudit(a export.AuditSink) {}
