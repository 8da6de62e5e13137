package typeresolve

import (
	"testing"

	"github.com/cilium/ebpf/btf"
)

func TestWalkStructTypeOffsetsSizesAndBitfields(t *testing.T) {
	s := &btf.Struct{
		Name: "event_t",
		Size: 8,
		Members: []btf.Member{
			{
				Name:   "pid",
				Type:   &btf.Int{Size: 4},
				Offset: 0,
			},
			{
				Name:         "flags",
				Type:         &btf.Int{Size: 4},
				Offset:       32,
				BitfieldSize: 3,
			},
		},
	}

	members, err := WalkStructType(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	pid := members[0]
	if pid.Name != "pid" {
		t.Fatalf("expected first member \"pid\", got %q", pid.Name)
	}
	if pid.BitOffset != 0 {
		t.Fatalf("expected pid bit offset 0, got %d", pid.BitOffset)
	}
	if pid.BitSize != 32 {
		t.Fatalf("expected pid bit size 32 (natural 4-byte int), got %d", pid.BitSize)
	}
	if pid.UsesBitfields {
		t.Fatalf("expected pid not to be a bitfield member")
	}

	flags := members[1]
	if flags.Name != "flags" {
		t.Fatalf("expected second member \"flags\", got %q", flags.Name)
	}
	if flags.BitOffset != 32 {
		t.Fatalf("expected flags bit offset 32, got %d", flags.BitOffset)
	}
	if flags.BitSize != 3 {
		t.Fatalf("expected flags bit size 3 (declared bitfield size), got %d", flags.BitSize)
	}
	if !flags.UsesBitfields {
		t.Fatalf("expected flags to be flagged as a bitfield member")
	}
}

func TestWalkStructTypeRejectsNonStruct(t *testing.T) {
	if _, err := WalkStructType(&btf.Int{Size: 4}); err == nil {
		t.Fatalf("expected error walking a non-struct type")
	}
}
