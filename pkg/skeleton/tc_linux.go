//go:build linux

package skeleton

import (
	"log"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
)

// attachTC is the single extension point the facade exposes to platform
// specializations: any program whose meta attach tag is the reserved
// value "tc" gets its tchook fields read from meta and is attached as a
// tcx hook, tolerating "hook already exists". The tcopts handle and
// priority are parsed into the meta tree but not applied here. An unknown
// attach_point is fatal; CUSTOM degrades to EGRESS with a log line since
// tcx has no notion of the legacy cls_bpf handle/priority slots CUSTOM
// implied in the original qdisc model.
func (l *linuxLoader) attachTC() error {
	for _, pm := range l.tree.Progs {
		if pm.Attach != "tc" {
			continue
		}
		if pm.TCHook == nil {
			return errs.New(errs.AttachFailed, "tc program %q missing required tchook fields", pm.Name)
		}

		prog := l.coll.Programs[pm.Name]
		if prog == nil {
			log.Printf("[skeleton] tc program %q not present in object, skipping", pm.Name)
			continue
		}

		attach, err := tcAttachType(pm.TCHook.AttachPoint)
		if err != nil {
			return err
		}

		lnk, err := link.AttachTCX(link.TCXOptions{
			Program:   prog,
			Attach:    attach,
			Interface: pm.TCHook.Ifindex,
		})
		if err != nil {
			if strings.Contains(err.Error(), "exist") {
				log.Printf("[skeleton] tc hook for %q already exists, continuing", pm.Name)
				continue
			}
			return errs.Wrap(errs.AttachFailed, err, "attach tc hook for %q", pm.Name)
		}
		if pm.Link {
			l.links = append(l.links, lnk)
		}
	}
	return nil
}

func tcAttachType(attachPoint string) (ebpf.AttachType, error) {
	switch strings.ToUpper(attachPoint) {
	case "INGRESS":
		return ebpf.AttachTCXIngress, nil
	case "EGRESS", "":
		return ebpf.AttachTCXEgress, nil
	case "CUSTOM":
		log.Printf("[skeleton] tc attach_point CUSTOM has no tcx equivalent, falling back to EGRESS")
		return ebpf.AttachTCXEgress, nil
	default:
		return 0, errs.New(errs.AttachFailed, "unknown tc attach_point %q", attachPoint)
	}
}
