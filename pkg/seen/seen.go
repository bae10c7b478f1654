// Package seen remembers which download URLs earlier scans already handled,
// so a repeated scan over the same time window does not fetch them again.
package seen

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "urls"

// Entry is stored per URL.
type Entry struct {
	State string    `json:"state"`
	Path  string    `json:"path,omitempty"`
	At    time.Time `json:"at"`
}

// NoDbError is returned when the index was not opened.
type NoDbError struct{}

func (e NoDbError) Error() string {
	return "seen index is not open"
}

type Index struct {
	db *bbolt.DB
}

// Open opens or creates the index file at path.
func Open(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open seen index %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Index{db: db}, nil
}

func (i *Index) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	return i.db.Close()
}

// Get returns the entry stored for url, or nil if there is none.
func (i *Index) Get(url string) (*Entry, error) {
	if i == nil || i.db == nil {
		return nil, NoDbError{}
	}

	var entry *Entry
	err := i.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket([]byte(bucketName)).Get([]byte(url))
		if value == nil {
			return nil
		}
		entry = new(Entry)
		if err := json.Unmarshal(value, entry); err != nil {
			return fmt.Errorf("decode entry for %s: %w", url, err)
		}
		return nil
	})
	return entry, err
}

func (i *Index) Seen(url string) (bool, error) {
	entry, err := i.Get(url)
	return entry != nil, err
}

// Mark records the outcome for url, replacing any earlier entry.
func (i *Index) Mark(url string, entry Entry) error {
	if i == nil || i.db == nil {
		return NoDbError{}
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return i.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(bucketName)).Put([]byte(url), value); err != nil {
			return fmt.Errorf("error setting %s key: %w", url, err)
		}
		return nil
	})
}

// Unseen filters urls down to the ones without an entry.
func (i *Index) Unseen(urls []string) ([]string, error) {
	if i == nil || i.db == nil {
		return nil, NoDbError{}
	}

	var out []string
	err := i.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		for _, u := range urls {
			if b.Get([]byte(u)) == nil {
				out = append(out, u)
			}
		}
		return nil
	})
	return out, err
}
