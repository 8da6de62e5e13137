package metamodel

import (
	"encoding/json"
	"testing"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
)

func TestParseAppliesDefaults(t *testing.T) {
	tree, err := Parse([]byte(`{"obj_name": "tracer"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.PerfBufferPages != 64 {
		t.Fatalf("expected default perf_buffer_pages=64, got %d", tree.PerfBufferPages)
	}
	if tree.PerfBufferTimeMs != 10 {
		t.Fatalf("expected default perf_buffer_time_ms=10, got %d", tree.PerfBufferTimeMs)
	}
	if tree.PollTimeoutMs != 100 {
		t.Fatalf("expected default poll_timeout_ms=100, got %d", tree.PollTimeoutMs)
	}
	if !tree.PrintHeader {
		t.Fatalf("expected default print_header=true")
	}
	if tree.DebugVerbose {
		t.Fatalf("expected default debug_verbose=false")
	}
}

func TestParseMissingObjNameIsMalformedMeta(t *testing.T) {
	_, err := Parse([]byte(`{}`))
	if err == nil {
		t.Fatalf("expected error for missing obj_name")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.MalformedMeta {
		t.Fatalf("expected errs.MalformedMeta, got %v", err)
	}
}

func TestParseDuplicateMapNameRejected(t *testing.T) {
	_, err := Parse([]byte(`{"obj_name":"t","maps":[{"name":"events"},{"name":"events"}]}`))
	if err == nil {
		t.Fatalf("expected error for duplicate map name")
	}
}

func TestSampleDefaultUnit(t *testing.T) {
	tree, err := Parse([]byte(`{"obj_name":"t","maps":[{"name":"hist","sample":{"type":"log2_hist"}}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Maps[0].Sample.Unit != "(unit)" {
		t.Fatalf("expected default unit \"(unit)\", got %q", tree.Maps[0].Sample.Unit)
	}
	if !tree.Maps[0].Sample.ClearMap {
		t.Fatalf("expected default clear_map=true")
	}
}

func TestSampleIntervalMsParsed(t *testing.T) {
	tree, err := Parse([]byte(`{"obj_name":"t","maps":[{"name":"events","sample":{"interval_ms":500}}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Maps[0].Sample.IntervalMs != 500 {
		t.Fatalf("expected interval_ms=500, got %d", tree.Maps[0].Sample.IntervalMs)
	}
}

func TestRoundTrip(t *testing.T) {
	in := []byte(`{"obj_name":"tracer","perf_buffer_pages":128}`)
	tree, err := Parse(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := tree.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	tree2, err := Parse(out)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if tree2.ObjName != tree.ObjName || tree2.PerfBufferPages != tree.PerfBufferPages {
		t.Fatalf("round trip mismatch: %+v vs %+v", tree, tree2)
	}

	var generic map[string]any
	if err := json.Unmarshal(out, &generic); err != nil {
		t.Fatalf("marshaled output is not valid JSON: %v", err)
	}
}

func TestFindVariable(t *testing.T) {
	tree, err := Parse([]byte(`{"obj_name":"t","data_sections":[{"name":".rodata","variables":[{"name":"min_duration_ns","type":"unsigned long long"}]}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := tree.FindVariable("min_duration_ns")
	if !ok {
		t.Fatalf("expected to find variable")
	}
	if v.Type != "unsigned long long" {
		t.Fatalf("unexpected type %q", v.Type)
	}
	if _, ok := tree.FindVariable("nope"); ok {
		t.Fatalf("expected not found")
	}
}
