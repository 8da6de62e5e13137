package abi

import "testing"

const sampleMeta = `{"obj_name": "tracer"}`

func TestOpenFromMetaAndObjectAssignsHandle(t *testing.T) {
	h, err := OpenFromMetaAndObject([]byte(sampleMeta), []byte{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h == InvalidHandle {
		t.Fatalf("expected a valid handle")
	}
	defer Destroy(h)

	if fd := GetFDByName(h, "nope"); fd != -1 {
		t.Fatalf("expected -1 for unknown name, got %d", fd)
	}
}

func TestDestroyUnknownHandleIsSafe(t *testing.T) {
	Destroy(Handle(99999))
}

func TestGetFDByNameUnknownHandle(t *testing.T) {
	if fd := GetFDByName(Handle(99999), "x"); fd != -1 {
		t.Fatalf("expected -1 for unknown handle, got %d", fd)
	}
}
