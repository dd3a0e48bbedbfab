// Package attachments stores letters' named binary blobs outside the
// relational store.
package attachments

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketAttachments = []byte("attachments")

// Store keeps attachments in a bolt database, one nested bucket per
// letter keyed by attachment name.
type Store struct {
	db *bolt.DB
}

func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment storage: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAttachments)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores or replaces one named attachment of a letter.
func (s *Store) Put(letterID int64, name string, data []byte) error {
	if name == "" {
		return fmt.Errorf("attachment name must not be empty")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		letters := tx.Bucket(bucketAttachments)
		b, err := letters.CreateBucketIfNotExists(letterKey(letterID))
		if err != nil {
			return fmt.Errorf("failed to create letter bucket: %w", err)
		}
		return b.Put([]byte(name), data)
	})
}

// Get returns one attachment, or nil when it does not exist.
func (s *Store) Get(letterID int64, name string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttachments).Bucket(letterKey(letterID))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(name)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	return data, err
}

// List returns the attachment names of a letter.
func (s *Store) List(letterID int64) ([]string, error) {
	names := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttachments).Bucket(letterKey(letterID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// Delete removes one attachment; removing a missing one is a no-op.
func (s *Store) Delete(letterID int64, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttachments).Bucket(letterKey(letterID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(name))
	})
}

func letterKey(letterID int64) []byte {
	return []byte(strconv.FormatInt(letterID, 10))
}
