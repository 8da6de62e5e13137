// Package sectionpatch writes a meta tree's data-section variable values
// into a collection spec's mmap-exposed regions (.rodata, .bss) before
// the kernel load step. cilium/ebpf does not expose raw mmap pointers the
// way libbpf's generated skeleton does; instead it exposes named
// *ebpf.VariableSpec entries per .rodata/.bss global, which this package
// rewrites with byte-exact encodings of each variable's current value.
package sectionpatch

import (
	"encoding/binary"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
)

// recognizedSlots are the data-section idents this patcher knows how to
// locate among a collection spec's variables. Anything else is logged
// and skipped, not fatal, per §4.4.
var recognizedSlots = map[string]bool{
	"rodata": true,
	".rodata": true,
	"bss":     true,
	".bss":    true,
}

// Patch writes each recognized data section's variable values into spec's
// matching .rodata/.bss globals.
func Patch(spec *ebpf.CollectionSpec, tree *metamodel.Tree) error {
	for _, section := range tree.DataSections {
		slot := strings.ToLower(strings.TrimPrefix(section.Name, "."))
		if !recognizedSlots[slot] && !recognizedSlots[section.Name] {
			log.Printf("[sectionpatch] skipping unrecognized data section %q", section.Name)
			continue
		}

		for _, v := range section.Variables {
			if v.Value == "" {
				continue
			}
			vs, ok := spec.Variables[v.Name]
			if !ok {
				log.Printf("[sectionpatch] variable %q not present in object, skipping", v.Name)
				continue
			}

			encoded, err := encode(v.Type, v.Size, v.Value)
			if err != nil {
				log.Printf("[sectionpatch] failed to encode %q: %v", v.Name, err)
				continue
			}

			if err := vs.Set(encoded); err != nil {
				log.Printf("[sectionpatch] failed to set %q: %v", v.Name, err)
			}
		}
	}
	return nil
}

// encode turns a variable's current (string) value into byte-exact bytes
// of the declared size, host byte order, truncating strings to size-1
// per §4.4.
func encode(typ string, size int, value string) ([]byte, error) {
	t := strings.TrimSpace(typ)

	switch {
	case t == "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, err
		}
		out := make([]byte, size)
		if b {
			out[0] = 1
		}
		return out, nil

	case strings.HasPrefix(t, "char[") && strings.HasSuffix(t, "]"):
		limit := size - 1
		if limit < 0 {
			limit = 0
		}
		s := value
		if len(s) > limit {
			s = s[:limit]
		}
		out := make([]byte, size)
		copy(out, s)
		return out, nil

	case strings.HasPrefix(t, "unsigned"):
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, err
		}
		return encodeUint(n, size), nil

	case t == "int" || t == "short" || t == "long" || t == "long long":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, err
		}
		return encodeUint(uint64(n), size), nil

	case t == "float":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(f)))
		return out, nil

	case t == "double":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, math.Float64bits(f))
		return out, nil

	default:
		out := make([]byte, size)
		copy(out, value)
		return out, nil
	}
}

func encodeUint(n uint64, size int) []byte {
	out := make([]byte, size)
	switch size {
	case 1:
		out[0] = byte(n)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(n))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(n))
	default:
		binary.LittleEndian.PutUint64(out, n)
		if size != 8 && size > 0 {
			out = out[:size]
		}
	}
	return out
}
