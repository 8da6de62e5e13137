package skeleton

import (
	"context"
	"testing"
)

const sampleMeta = `{
	"obj_name": "tracer",
	"maps": [{"name": "events", "ident": "ringbuf"}],
	"export_types": [{"name": "event_t", "members": [{"name": "pid", "type": "u32"}]}]
}`

func TestOpenDirectStartsAtInit(t *testing.T) {
	s, err := OpenDirect([]byte{0x7f, 'E', 'L', 'F'}, []byte(sampleMeta))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != StateInit {
		t.Fatalf("expected StateInit, got %v", s.State())
	}
	if s.Name() != "tracer" {
		t.Fatalf("expected obj_name tracer, got %q", s.Name())
	}
}

func TestOpenDirectMalformedMetaIsInvalid(t *testing.T) {
	s, err := OpenDirect([]byte{}, []byte(`{"maps": []}`))
	if err == nil {
		t.Fatalf("expected error for missing obj_name")
	}
	if s.State() != StateInvalid {
		t.Fatalf("expected StateInvalid, got %v", s.State())
	}
	if s.Errors.Last() == nil {
		t.Fatalf("expected error channel to hold the failure")
	}
}

func TestDestroyFromInitIsNoOp(t *testing.T) {
	s, err := OpenDirect([]byte{}, []byte(sampleMeta))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Destroy()
	if s.State() != StateInit {
		t.Fatalf("expected StateInit after destroy from INIT (no-op), got %v", s.State())
	}
	s.Destroy() // idempotent
}

func TestWaitAndPollRejectsNonRunning(t *testing.T) {
	s, err := OpenDirect([]byte{}, []byte(sampleMeta))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.WaitAndPollToHandler(context.Background(), FormatPlain, nil, nil); err == nil {
		t.Fatalf("expected error calling wait_and_poll_to_handler from INIT")
	}
}

func TestGetFDUnknownNameIsMinusOne(t *testing.T) {
	s, err := OpenDirect([]byte{}, []byte(sampleMeta))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fd := s.GetFD("does-not-exist"); fd != -1 {
		t.Fatalf("expected -1 for unknown name, got %d", fd)
	}
}

func TestHandleRejectsCreationBeforeRunning(t *testing.T) {
	s, err := OpenDirect([]byte{}, []byte(sampleMeta))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewHandle(s); err == nil {
		t.Fatalf("expected error creating a handle before RUNNING")
	}
}
