package main

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var bucketCorrections = []byte("corrections")

// memoryEntry is one remembered user correction, keyed by the sanitized
// transaction description. The next time the same merchant shows up, its
// account is applied without asking the oracle twice.
type memoryEntry struct {
	Desc        string
	AccountCode string
	AccountName string
	UpdatedAt   string
}

type memory struct {
	db *bolt.DB
}

func openMemory(path string) (*memory, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open memory db: %v", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCorrections)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "unable to create corrections bucket")
	}
	return &memory{db: db}, nil
}

func (m *memory) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *memory) rememberCorrection(desc, code, name string) error {
	entry := memoryEntry{
		Desc:        desc,
		AccountCode: code,
		AccountName: name,
		UpdatedAt:   time.Now().Format(time.RFC3339),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return errors.Wrap(err, "unable to encode correction")
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCorrections)
		return b.Put([]byte(sanitize(desc)), buf.Bytes())
	})
}

// lookupCorrection finds a remembered account for a description. Misses
// return ok=false, never an error.
func (m *memory) lookupCorrection(desc string) (entry memoryEntry, ok bool) {
	if m == nil || m.db == nil {
		return entry, false
	}
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCorrections)
		v := b.Get([]byte(sanitize(desc)))
		if v == nil {
			return nil
		}
		if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&entry); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return memoryEntry{}, false
	}
	return entry, ok
}

// allCorrections returns every remembered correction, for hint training.
func (m *memory) allCorrections() ([]memoryEntry, error) {
	if m == nil || m.db == nil {
		return nil, nil
	}
	var entries []memoryEntry
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCorrections)
		return b.ForEach(func(k, v []byte) error {
			var e memoryEntry
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&e); err != nil {
				return errors.Wrapf(err, "unable to decode correction for key %s", k)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
