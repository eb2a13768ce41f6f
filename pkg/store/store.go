// Package store is the persistence collaborator for model state. It is a
// small key-value store backed by bbolt: string and string-slice values,
// one bucket, one transaction per write so every key update is atomic.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketState = []byte("state")

type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the state database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
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

func (s *Store) String(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketState).Get([]byte(key)); data != nil {
			value = string(data)
		}
		return nil
	})
	return value, err
}

func (s *Store) SetString(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put([]byte(key), []byte(value))
	})
}

func (s *Store) Strings(key string) ([]string, error) {
	var values []string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &values)
	})
	return values, err
}

func (s *Store) SetStrings(key string, values []string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put([]byte(key), data)
	})
}

func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Delete([]byte(key))
	})
}
