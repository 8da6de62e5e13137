package export

import (
	"path/filepath"
	"testing"
)

func TestAuditSinkAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := OpenAuditSink(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sink.Close()

	if err := sink.Append("plain", []byte("record-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Append("plain", []byte("record-2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []string
	err = sink.Replay(func(format string, record []byte) error {
		if format != "plain" {
			t.Fatalf("unexpected format %q", format)
		}
		got = append(got, string(record))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "record-1" || got[1] != "record-2" {
		t.Fatalf("unexpected replay order: %v", got)
	}
}
