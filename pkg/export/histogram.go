package export

import (
	"fmt"
	"strings"

	"github.com/cilium/ebpf/btf"
)

// renderHistogram implements §4.6's sample-path histogram variant: key
// members, then each non-"slots" value member as "name = value", then a
// log2 histogram of the slots array labeled with the sample's unit. The
// "slots" member name is treated as a contract per §9, not a
// configurable convention.
func (e *Exporter) renderHistogram(key, value []byte) (string, error) {
	var b strings.Builder

	for _, m := range e.KeyMembers {
		fmt.Fprintf(&b, "%s = %s  ", m.Name, renderMember(key, m))
	}
	b.WriteString("\n")

	for _, m := range e.ValueMembers {
		if m.Name == "slots" {
			continue
		}
		fmt.Fprintf(&b, "%s = %s\n", m.Name, renderMember(value, m))
	}

	slots, err := extractSlots(value, e.ValueMembers)
	if err != nil {
		return "", err
	}

	unit := "(unit)"
	if e.SampleCfg != nil && e.SampleCfg.Unit != "" {
		unit = e.SampleCfg.Unit
	}

	b.WriteString(printLog2Hist(slots, unit))

	rec := b.String()
	e.emit([]byte(rec))
	return rec, nil
}

func extractSlots(value []byte, members []CheckedMember) ([]uint32, error) {
	for _, m := range members {
		if m.Name != "slots" {
			continue
		}
		arr, ok := m.Type.(*btf.Array)
		if !ok {
			return nil, fmt.Errorf("slots member is not an array type")
		}
		start := int(m.BitOffset / 8)
		n := int(arr.Nelems)
		out := make([]uint32, n)
		for i := 0; i < n; i++ {
			off := start + i*4
			if off+4 > len(value) {
				break
			}
			out[i] = decodeUnsignedLE32(value[off : off+4])
		}
		return out, nil
	}
	return nil, fmt.Errorf("value struct has no \"slots\" member")
}

func decodeUnsignedLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// printStars ports trace_helpers.c's print_stars: a fixed-width bar of
// asterisks proportional to val/valMax, padded with spaces, with a
// trailing "+" when val exceeds valMax.
func printStars(val, valMax uint32, width int) string {
	if valMax == 0 {
		valMax = 1
	}
	v := val
	if v > valMax {
		v = valMax
	}
	numStars := int(v) * width / int(valMax)
	numSpaces := width - numStars
	needPlus := val > valMax

	var b strings.Builder
	b.WriteString(strings.Repeat("*", numStars))
	b.WriteString(strings.Repeat(" ", numSpaces))
	if needPlus {
		b.WriteString("+")
	}
	return b.String()
}

// printLog2Hist ports trace_helpers.c's print_log2_hist: header width and
// bar width depend on whether the highest active bucket index is <= 32
// (narrower, full-width bars) or > 32 (wider, half-width bars). Bucket
// boundaries are 2^i-style; low is decremented by one when low == high.
func printLog2Hist(vals []uint32, valType string) string {
	const starsMax = 40

	idxMax := -1
	var valMax uint32
	for i, v := range vals {
		if v > 0 {
			idxMax = i
		}
		if v > valMax {
			valMax = v
		}
	}
	if idxMax < 0 {
		return ""
	}

	var b strings.Builder
	if idxMax <= 32 {
		fmt.Fprintf(&b, "%5s%-19s : count    distribution\n", "", valType)
	} else {
		fmt.Fprintf(&b, "%15s%-29s : count    distribution\n", "", valType)
	}

	stars := starsMax
	width := 10
	if idxMax > 32 {
		stars = starsMax / 2
		width = 20
	}

	for i := 0; i <= idxMax; i++ {
		low := (uint64(1) << uint(i+1)) >> 1
		high := (uint64(1) << uint(i+1)) - 1
		if low == high {
			low--
		}
		val := vals[i]
		fmt.Fprintf(&b, "%*d -> %-*d : %-8d |%s|\n", width, low, width, high, val, printStars(val, valMax, stars))
	}

	return b.String()
}
