package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/aestimo/internal/interfaces"
)

// KVStorage implements interfaces.KeyValueStorage on badgerhold. It backs
// API key resolution and config placeholder replacement, so keys are folded
// to lowercase on every operation.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{db: db, logger: logger}
}

func foldKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// fetch loads a pair by folded key, mapping badgerhold's not-found error to
// the interface sentinel.
func (s *KVStorage) fetch(key string) (*interfaces.KeyValuePair, error) {
	var pair interfaces.KeyValuePair
	switch err := s.db.Store().Get(foldKey(key), &pair); err {
	case nil:
		return &pair, nil
	case badgerhold.ErrNotFound:
		return nil, interfaces.ErrKeyNotFound
	default:
		return nil, fmt.Errorf("failed to load key %q: %w", key, err)
	}
}

func (s *KVStorage) all() ([]interfaces.KeyValuePair, error) {
	var pairs []interfaces.KeyValuePair
	if err := s.db.Store().Find(&pairs, nil); err != nil {
		return nil, fmt.Errorf("failed to list key/value pairs: %w", err)
	}
	return pairs, nil
}

// Get retrieves a value by key
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	pair, err := s.fetch(key)
	if err != nil {
		return "", err
	}
	return pair.Value, nil
}

// GetPair retrieves a pair with its metadata
func (s *KVStorage) GetPair(ctx context.Context, key string) (*interfaces.KeyValuePair, error) {
	return s.fetch(key)
}

// Set inserts or updates a key/value pair
func (s *KVStorage) Set(ctx context.Context, key string, value string, description string) error {
	_, err := s.Upsert(ctx, key, value, description)
	return err
}

// Upsert inserts or updates a key/value pair, reporting whether the key is
// new. CreatedAt survives updates.
func (s *KVStorage) Upsert(ctx context.Context, key string, value string, description string) (bool, error) {
	now := time.Now()
	pair := interfaces.KeyValuePair{
		Key:         foldKey(key),
		Value:       value,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	existing, err := s.fetch(key)
	switch {
	case err == nil:
		pair.CreatedAt = existing.CreatedAt
	case errors.Is(err, interfaces.ErrKeyNotFound):
	default:
		return false, err
	}

	if err := s.db.Store().Upsert(pair.Key, &pair); err != nil {
		return false, fmt.Errorf("failed to store key %q: %w", key, err)
	}
	return existing == nil, nil
}

// Delete removes a key/value pair
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	err := s.db.Store().Delete(foldKey(key), &interfaces.KeyValuePair{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// DeleteAll clears the key/value store
func (s *KVStorage) DeleteAll(ctx context.Context) error {
	if err := s.db.Store().DeleteMatching(&interfaces.KeyValuePair{}, nil); err != nil {
		return fmt.Errorf("failed to clear key/value store: %w", err)
	}
	s.logger.Info().Msg("Cleared key/value store")
	return nil
}

// List returns every pair, most recently updated first
func (s *KVStorage) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	pairs, err := s.all()
	if err != nil {
		return nil, err
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].UpdatedAt.After(pairs[j].UpdatedAt)
	})
	return pairs, nil
}

// GetAll flattens the store into a key -> value map
func (s *KVStorage) GetAll(ctx context.Context) (map[string]string, error) {
	pairs, err := s.all()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.Key] = p.Value
	}
	return out, nil
}
