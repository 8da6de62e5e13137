package export

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/cilium/ebpf/btf"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
)

func u32Member(name string, bitOffset uint32) CheckedMember {
	return CheckedMember{
		Name:      name,
		Type:      &btf.Int{Size: 4},
		BitOffset: bitOffset,
		BitSize:   32,
		ByteSize:  4,
	}
}

func charArrayMember(name string, bitOffset uint32, n int) CheckedMember {
	return CheckedMember{
		Name:      name,
		Type:      &btf.Array{Nelems: uint32(n), Type: &btf.Int{Size: 1, Encoding: btf.Char}},
		BitOffset: bitOffset,
		BitSize:   uint32(n * 8),
		ByteSize:  uint32(n),
	}
}

// S3 — ring-buffer plain-text rendering.
func TestRenderEventPlainText(t *testing.T) {
	e := &Exporter{
		Format:      FormatPlain,
		PrintHeader: true,
		EventMembers: []CheckedMember{
			u32Member("pid", 0),
			charArrayMember("comm", 32, 16),
		},
	}

	raw := make([]byte, 20)
	binary.LittleEndian.PutUint32(raw[0:4], 4242)
	copy(raw[4:], "myproc")

	rec, err := e.RenderEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec, "4242") {
		t.Fatalf("expected record to contain pid 4242, got: %q", rec)
	}
	if !strings.Contains(rec, "myproc") {
		t.Fatalf("expected record to contain comm myproc, got: %q", rec)
	}

	header := e.Header()
	if !strings.Contains(header, "PID") || !strings.Contains(header, "COMM") {
		t.Fatalf("expected header to contain PID and COMM, got: %q", header)
	}
	if !strings.HasPrefix(header, "TIME") {
		t.Fatalf("expected header to start with TIME, got: %q", header)
	}
}

func TestEmitHeaderRoutesThroughSinkOnce(t *testing.T) {
	e := &Exporter{
		Format:      FormatPlain,
		PrintHeader: true,
		EventMembers: []CheckedMember{
			u32Member("pid", 0),
		},
	}

	var got []string
	e.SetSink(nil, func(ctx any, data []byte) {
		got = append(got, string(data))
	})

	e.EmitHeader()
	e.EmitHeader()

	if len(got) != 1 {
		t.Fatalf("expected header to be emitted exactly once, got %d: %v", len(got), got)
	}
	if !strings.HasPrefix(got[0], "TIME") || !strings.Contains(got[0], "PID") {
		t.Fatalf("expected emitted header to contain TIME/PID, got: %q", got[0])
	}
}

func TestRenderEventJSON(t *testing.T) {
	e := &Exporter{
		Format:       FormatJSON,
		EventMembers: []CheckedMember{u32Member("pid", 0)},
	}
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, 7)

	rec, err := e.RenderEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec, `"pid":7`) {
		t.Fatalf("expected json pid field, got: %q", rec)
	}
}

// S4 — hash-map sample with a log2_hist value struct.
func TestRenderSampleHistogram(t *testing.T) {
	const numSlots = 27
	value := make([]byte, numSlots*4)
	binary.LittleEndian.PutUint32(value[0:4], 5)   // bucket 0
	binary.LittleEndian.PutUint32(value[12:16], 10) // bucket 3

	e := &Exporter{
		Format: FormatPlain,
		KeyMembers: []CheckedMember{
			charArrayMember("key", 0, 8),
		},
		ValueMembers: []CheckedMember{
			{
				Name:      "slots",
				Type:      &btf.Array{Nelems: numSlots, Type: &btf.Int{Size: 4}},
				BitOffset: 0,
				BitSize:   uint32(numSlots * 32),
				ByteSize:  uint32(numSlots * 4),
			},
		},
		SampleCfg: &metamodel.Sample{Type: "log2_hist", Unit: "usec"},
	}

	key := make([]byte, 8)
	copy(key, "readsys")

	rec, err := e.RenderSample(key, value)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec, "key = ") {
		t.Fatalf("expected key prefix line, got: %q", rec)
	}
	if !strings.Contains(rec, "usec") {
		t.Fatalf("expected histogram header to mention unit usec, got: %q", rec)
	}
	if !strings.Contains(rec, "distribution") {
		t.Fatalf("expected histogram header, got: %q", rec)
	}
	if !strings.Contains(rec, "8 -> 15") {
		t.Fatalf("expected bucket boundary row for index 3, got: %q", rec)
	}
	if !strings.Contains(rec, "10") {
		t.Fatalf("expected bucket 3's count of 10 to appear, got: %q", rec)
	}
}

func TestRenderSampleHistogramEmptyWhenAllZero(t *testing.T) {
	value := make([]byte, 27*4)
	e := &Exporter{
		Format: FormatPlain,
		ValueMembers: []CheckedMember{
			{
				Name:      "slots",
				Type:      &btf.Array{Nelems: 27, Type: &btf.Int{Size: 4}},
				BitOffset: 0,
				BitSize:   27 * 32,
				ByteSize:  27 * 4,
			},
		},
		SampleCfg: &metamodel.Sample{Type: "log2_hist", Unit: "usec"},
	}

	rec, err := e.RenderSample(nil, value)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(rec, "distribution") {
		t.Fatalf("expected no histogram body when all buckets are empty, got: %q", rec)
	}
}
