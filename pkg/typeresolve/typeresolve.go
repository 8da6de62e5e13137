// Package typeresolve consumes the object's embedded BTF debug-type
// table. Given a type-id, it returns concrete member layout information:
// bit-offset, bit-size, logical size, and printable type string.
package typeresolve

import (
	"fmt"

	"github.com/cilium/ebpf/btf"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
)

// TypeRecord is the resolved description of a single BTF type.
type TypeRecord struct {
	ID   btf.TypeID
	Name string
	Type btf.Type
}

// Member is one field yielded by a struct-member walk: (member name,
// member type, raw bit offset). UsesBitfields flags a member declared
// with an explicit bitfield size, so callers decode bit-offset vs
// bit-size accordingly.
type Member struct {
	Name          string
	Type          btf.Type
	BitOffset     uint32
	BitSize       uint32
	UsesBitfields bool
}

// Resolver walks a loaded object's BTF debug-type table. The cilium/ebpf
// library does not expose libbpf's raw string-table byte offsets, so
// NameByOffset is backed by a synthetic name table built by walking every
// type once at construction — offset 0 is reserved for the anonymous
// name, matching the source's "(anon)" convention, and every other name
// encountered gets a stable, deterministic offset assigned in traversal
// order.
type Resolver struct {
	spec  *btf.Spec
	names []string
	index map[string]int
}

// New builds a Resolver over a loaded BTF spec.
func New(spec *btf.Spec) (*Resolver, error) {
	if spec == nil {
		return nil, errs.New(errs.MissingKernelTypeInfo, "no BTF spec available to resolve types")
	}
	r := &Resolver{
		spec:  spec,
		names: []string{""}, // offset 0 => anonymous
		index: map[string]int{"": 0},
	}
	r.indexAllNames()
	return r, nil
}

func (r *Resolver) indexAllNames() {
	it := r.spec.Iterate()
	for it.Next() {
		r.internName(it.Type.TypeName())
		if s, ok := it.Type.(*btf.Struct); ok {
			for _, m := range s.Members {
				r.internName(m.Name)
			}
		}
	}
}

func (r *Resolver) internName(name string) int {
	if name == "" {
		return 0
	}
	if off, ok := r.index[name]; ok {
		return off
	}
	off := len(r.names)
	r.names = append(r.names, name)
	r.index[name] = off
	return off
}

// TypeByID resolves a type-id to a TypeRecord.
func (r *Resolver) TypeByID(id btf.TypeID) (*TypeRecord, error) {
	t, err := r.spec.TypeByID(id)
	if err != nil {
		return nil, fmt.Errorf("resolve type id %d: %w", id, err)
	}
	return &TypeRecord{ID: id, Name: t.TypeName(), Type: t}, nil
}

// ResolveSize returns a type's size in bytes.
func (r *Resolver) ResolveSize(id btf.TypeID) (int, error) {
	t, err := r.spec.TypeByID(id)
	if err != nil {
		return 0, fmt.Errorf("resolve size for type id %d: %w", id, err)
	}
	var sized btf.Sized
	if s, ok := t.(btf.Sized); ok {
		sized = s
		return int(sized.TypeSize()), nil
	}
	return 0, fmt.Errorf("type id %d (%T) is not sized", id, t)
}

// NameByOffset returns the name at the given synthetic offset, or the
// reserved sentinels "(anon)" for offset 0 and "(invalid)" for an offset
// the table has never assigned.
func (r *Resolver) NameByOffset(offset int) string {
	if offset == 0 {
		return "(anon)"
	}
	if offset < 0 || offset >= len(r.names) {
		return "(invalid)"
	}
	return r.names[offset]
}

// OffsetOf is the inverse of NameByOffset: the synthetic offset a name
// was assigned during construction, or 0 if the name was never seen.
func (r *Resolver) OffsetOf(name string) int {
	if off, ok := r.index[name]; ok {
		return off
	}
	return 0
}

// EmitDecl renders a printable declaration string for a type, used to
// cross-check meta against the object and to label histogram keys whose
// export_types are absent.
func (r *Resolver) EmitDecl(id btf.TypeID) (string, error) {
	t, err := r.spec.TypeByID(id)
	if err != nil {
		return "", fmt.Errorf("emit decl for type id %d: %w", id, err)
	}
	return fmt.Sprintf("%s", t), nil
}

// WalkStruct yields each member of a struct type-id in declaration order.
func (r *Resolver) WalkStruct(id btf.TypeID) ([]Member, error) {
	t, err := r.spec.TypeByID(id)
	if err != nil {
		return nil, fmt.Errorf("walk struct id %d: %w", id, err)
	}
	return WalkStructType(t)
}

// WalkStructType walks an already-resolved btf.Type directly, for
// callers holding a type straight from a CollectionSpec map's Key/Value
// fields rather than a type-id.
func WalkStructType(t btf.Type) ([]Member, error) {
	s, ok := t.(*btf.Struct)
	if !ok {
		return nil, fmt.Errorf("type %T is not a struct", t)
	}

	members := make([]Member, 0, len(s.Members))
	for _, m := range s.Members {
		bitOffset := uint32(m.Offset)
		natural := naturalBitSize(m.Type)
		bitSize := m.BitfieldSize
		if bitSize == 0 {
			bitSize = btf.Bits(natural)
		}
		members = append(members, Member{
			Name:          m.Name,
			Type:          m.Type,
			BitOffset:     bitOffset,
			BitSize:       uint32(bitSize),
			UsesBitfields: m.BitfieldSize != 0,
		})
	}
	return members, nil
}

func naturalBitSize(t btf.Type) uint32 {
	resolved := btf.UnderlyingType(t)
	if s, ok := resolved.(btf.Sized); ok {
		return s.TypeSize() * 8
	}
	return 0
}

// StructByName resolves a struct type by name, for correlating meta's
// export_types entries against the object's debug types.
func (r *Resolver) StructByName(name string) (btf.TypeID, *btf.Struct, error) {
	var s *btf.Struct
	if err := r.spec.TypeByName(name, &s); err != nil {
		return 0, nil, fmt.Errorf("struct %q not found in object type table: %w", name, err)
	}
	id, err := r.spec.TypeID(s)
	if err != nil {
		return 0, nil, fmt.Errorf("type id for struct %q: %w", name, err)
	}
	return id, s, nil
}
