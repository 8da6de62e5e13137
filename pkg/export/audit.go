package export

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

const auditPrefix = "a:"

// PebbleAuditSink persists rendered export records to a Pebble database
// keyed by a time-ordered prefix, so a caller can replay a run's full
// output stream offline. Grounded on the teacher's journal-write
// pattern: one batch per entry, NoSync durability, key suffixed with a
// random value to keep same-nanosecond writes distinct.
type PebbleAuditSink struct {
	db *pebble.DB
}

// auditEntry is the persisted record shape.
type auditEntry struct {
	Timestamp int64  `json:"ts"`
	Format    string `json:"format"`
	Record    []byte `json:"record"`
}

// OpenAuditSink opens (creating if absent) a Pebble database at path.
func OpenAuditSink(path string) (*PebbleAuditSink, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	return &PebbleAuditSink{db: db}, nil
}

// Close closes the underlying database.
func (a *PebbleAuditSink) Close() error {
	return a.db.Close()
}

// Append writes one rendered record, satisfying the AuditSink interface.
func (a *PebbleAuditSink) Append(format string, record []byte) error {
	entry := auditEntry{Timestamp: time.Now().UnixNano(), Format: format, Record: record}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	suffix, err := randomSuffix()
	if err != nil {
		return fmt.Errorf("generate audit key: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d:%s", auditPrefix, entry.Timestamp, suffix))

	batch := a.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(key, payload, pebble.NoSync); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return batch.Commit(pebble.NoSync)
}

// Replay walks every persisted entry in timestamp order, invoking fn
// with each record's format tag and bytes.
func (a *PebbleAuditSink) Replay(fn func(format string, record []byte) error) error {
	upper := append([]byte(auditPrefix), 0xff)
	iter, err := a.db.NewIter(&pebble.IterOptions{LowerBound: []byte(auditPrefix), UpperBound: upper})
	if err != nil {
		return fmt.Errorf("open audit iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var entry auditEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return fmt.Errorf("unmarshal audit entry: %w", err)
		}
		if err := fn(entry.Format, entry.Record); err != nil {
			return err
		}
	}
	return iter.Error()
}

func randomSuffix() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
