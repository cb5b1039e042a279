package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const configPrefix = "config/"

// ErrEmptyKey is returned for settings without a name.
var ErrEmptyKey = errors.New("config key is empty")

func configKey(key string) []byte {
	return []byte(configPrefix + key)
}

// Get returns the stored value for key and whether it was present.
func (s *Store) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(configKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}

		if err != nil {
			return err
		}

		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		value, found = string(raw), true

		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to read config %s: %w", key, err)
	}

	return value, found, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany stores every value in one transaction.
func (s *Store) SetMany(values map[string]string) error {
	for key := range values {
		if strings.TrimSpace(key) == "" {
			return ErrEmptyKey
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for key, value := range values {
			if err := txn.Set(configKey(key), []byte(value)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// All returns a copy of every stored setting.
func (s *Store) All() (map[string]string, error) {
	settings := make(map[string]string)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(configPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			settings[strings.TrimPrefix(string(item.Key()), configPrefix)] = string(raw)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}

	return settings, nil
}

// SeedDefaults inserts every default whose key is missing.
//
// Parameters:
//   - defaults: Default settings.
//
// Returns:
//   - int: Number of keys inserted.
//   - error: Non-nil if the store could not be read or written.
func (s *Store) SeedDefaults(defaults map[string]string) (int, error) {
	added := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		added = 0

		for key, value := range defaults {
			_, err := txn.Get(configKey(key))
			if err == nil {
				continue
			}

			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			if err := txn.Set(configKey(key), []byte(value)); err != nil {
				return err
			}

			added++
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to seed config defaults: %w", err)
	}

	if added > 0 {
		logrus.WithField("added", added).Debug("Seeded default configuration")
	}

	return added, nil
}
