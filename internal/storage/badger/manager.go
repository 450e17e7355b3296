package badger

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	session  interfaces.SessionStorage
	document interfaces.DocumentStorage
	kv       interfaces.KeyValueStorage
	logger   arbor.ILogger
}

// NewManager opens the database and builds the typed storage views over it.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")
	return &Manager{
		db:       db,
		session:  NewSessionStorage(db, logger),
		document: NewDocumentStorage(db, logger),
		kv:       NewKVStorage(db, logger),
		logger:   logger,
	}, nil
}

// SessionStorage returns the Session storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.session
}

// DocumentStorage returns the Document storage interface
func (m *Manager) DocumentStorage() interfaces.DocumentStorage {
	return m.document
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// SeedDefaultKVValues inserts default key/value pairs that do not exist yet.
// Existing values are never overwritten.
func (m *Manager) SeedDefaultKVValues(ctx context.Context) error {
	for _, def := range common.GetDefaultKVValues() {
		_, err := m.kv.GetPair(ctx, def.Key)
		if err == nil {
			continue // already present
		}
		if err != interfaces.ErrKeyNotFound {
			return err
		}
		if err := m.kv.Set(ctx, def.Key, def.Value, def.Description); err != nil {
			return err
		}
		m.logger.Debug().Str("key", def.Key).Msg("Seeded default KV value")
	}
	return nil
}
