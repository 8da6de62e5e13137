package pkgcodec

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
)

func buildZlibPackage(t *testing.T, object []byte, meta string) []byte {
	t.Helper()
	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(object); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zlib writer: %v", err)
	}

	env := map[string]any{
		"bpf_object":      base64.StdEncoding.EncodeToString(compressed.Bytes()),
		"bpf_object_size": len(object),
		"meta":            json.RawMessage(meta),
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return b
}

func TestOpenRoundTripsObjectBytes(t *testing.T) {
	object := []byte("fake kernel object bytes, repeated for compression ")
	pkg := buildZlibPackage(t, object, `{"obj_name":"tracer"}`)

	decoded, err := Open(pkg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(decoded.ObjectBytes, object) {
		t.Fatalf("object bytes mismatch: got %q want %q", decoded.ObjectBytes, object)
	}
}

func TestOpenMissingFieldIsMalformedPackage(t *testing.T) {
	_, err := Open([]byte(`{"bpf_object":"x"}`))
	if err == nil {
		t.Fatalf("expected error")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.MalformedPackage {
		t.Fatalf("expected MalformedPackage, got %v", err)
	}
}

func TestOpenBadBase64(t *testing.T) {
	pkg := []byte(`{"bpf_object":"not-base64!!","bpf_object_size":10,"meta":{}}`)
	_, err := Open(pkg)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenDirectSkipsInflate(t *testing.T) {
	decoded, err := OpenDirect([]byte("raw object"), []byte(`{"obj_name":"t"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(decoded.ObjectBytes) != "raw object" {
		t.Fatalf("unexpected object bytes: %q", decoded.ObjectBytes)
	}
}

func TestContentIDStableForSameBytes(t *testing.T) {
	id1, err := ContentID([]byte("abc"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := ContentID([]byte("abc"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable content id, got %q vs %q", id1, id2)
	}
	id3, _ := ContentID([]byte("xyz"))
	if id1 == id3 {
		t.Fatalf("expected different content id for different bytes")
	}
}

func TestIntegrityDigestChangesWithLeaves(t *testing.T) {
	cid := "deadbeef"
	d1, err := IntegrityDigest(cid, []string{"min_duration_ns", "verbose"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := IntegrityDigest(cid, []string{"min_duration_ns", "verbose", "extra"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1 == d2 {
		t.Fatalf("expected digest to change when leaf set changes")
	}
}

func TestApplyDeltaRoundTrips(t *testing.T) {
	base := bytes.Repeat([]byte("base-object-content-"), 50)
	updated := append(append([]byte{}, base...), []byte("-appended-tail")...)

	patch, err := ComputeDelta(base, updated)
	if err != nil {
		t.Fatalf("compute delta: %v", err)
	}

	result, err := ApplyDelta(base, patch)
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if !bytes.Equal(result, updated) {
		t.Fatalf("delta round trip mismatch")
	}
}
