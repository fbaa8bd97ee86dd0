// Package bbolt provides a BBolt-backed durable storage.Medium.
package bbolt

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/vueni/strongbox/storage"
)

var bucketName = []byte("strongbox")

// Medium implements storage.Medium backed by a BBolt database. It is the
// durable medium: contents survive process restarts.
type Medium struct {
	db *bbolt.DB
}

var _ storage.Medium = (*Medium)(nil)

// NewMedium returns a Medium backed by the given BBolt database.
func NewMedium(db *bbolt.DB) (*Medium, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &Medium{db: db}, nil
}

// NewMediumFromFile opens a BBolt database at the given path and returns a
// new Medium.
func NewMediumFromFile(path string, options *bbolt.Options) (*Medium, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewMedium(db)
}

// Close closes the underlying BBolt database.
func (m *Medium) Close() error {
	return m.db.Close()
}

func (m *Medium) Get(key string) (string, bool, error) {
	var value string
	var found bool
	err := m.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(key))
		if data == nil {
			return nil
		}
		value = string(data)
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

func (m *Medium) Set(key, value string) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
}

func (m *Medium) Remove(key string) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

func (m *Medium) Keys() ([]string, error) {
	var keys []string
	err := m.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}
