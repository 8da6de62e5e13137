// Package pkgcache is a bbolt-backed index from a package's content ID
// (pkg/pkgcodec.ContentID) to its last-open time and object size, so a
// CLI front-end can report "seen this package before" without
// re-decoding the envelope. Grounded on the teacher's bbolt bucket
// conventions (create-if-not-exists at open, one bucket per concern).
package pkgcache

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketPackages = "packages"

// Entry is one cached package's metadata.
type Entry struct {
	ContentID  string    `json:"content_id"`
	ObjName    string    `json:"obj_name"`
	Size       int       `json:"size"`
	LastOpened time.Time `json:"last_opened"`
	OpenCount  int       `json:"open_count"`
}

// Cache wraps a bbolt database dedicated to package cache entries.
type Cache struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt database at path and
// ensures the packages bucket exists.
func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open package cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketPackages))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create packages bucket: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Touch records that contentID was opened, bumping open_count and
// last_opened. Inserts a fresh entry if the content ID is unseen.
func (c *Cache) Touch(contentID, objName string, size int, at time.Time) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPackages))

		entry := Entry{ContentID: contentID, ObjName: objName, Size: size, LastOpened: at, OpenCount: 1}
		if raw := b.Get([]byte(contentID)); raw != nil {
			var existing Entry
			if err := json.Unmarshal(raw, &existing); err == nil {
				entry.OpenCount = existing.OpenCount + 1
			}
		}

		encoded, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal cache entry: %w", err)
		}
		return b.Put([]byte(contentID), encoded)
	})
}

// Lookup returns the cached entry for contentID, if any.
func (c *Cache) Lookup(contentID string) (*Entry, bool, error) {
	var entry Entry
	var found bool

	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPackages))
		raw := b.Get([]byte(contentID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return nil, false, fmt.Errorf("lookup cache entry: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &entry, true, nil
}

// All returns every cache entry, for a CLI "list known packages" command.
func (c *Cache) All() ([]Entry, error) {
	var entries []Entry
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketPackages))
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	return entries, nil
}
