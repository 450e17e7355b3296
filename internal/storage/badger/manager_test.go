package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
)

func newTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()

	logger := arbor.NewLogger()
	config := &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "badger")}

	manager, err := NewManager(logger, config)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return manager
}

func TestManager_Accessors(t *testing.T) {
	manager := newTestManager(t)

	assert.NotNil(t, manager.SessionStorage())
	assert.NotNil(t, manager.DocumentStorage())
	assert.NotNil(t, manager.KeyValueStorage())
	assert.NotNil(t, manager.DB())
}

func TestManager_SeedDefaultKVValues(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	seeder := manager.(*Manager)
	require.NoError(t, seeder.SeedDefaultKVValues(ctx))

	for _, def := range common.GetDefaultKVValues() {
		pair, err := manager.KeyValueStorage().GetPair(ctx, def.Key)
		require.NoError(t, err, "expected seeded key %s", def.Key)
		assert.Equal(t, def.Value, pair.Value)
		assert.Equal(t, def.Description, pair.Description)
	}
}

func TestManager_SeedDefaultKVValues_PreservesExisting(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	err := manager.KeyValueStorage().Set(ctx, "anthropic_api_key", "sk-user-key", "user supplied")
	require.NoError(t, err)

	seeder := manager.(*Manager)
	require.NoError(t, seeder.SeedDefaultKVValues(ctx))

	value, err := manager.KeyValueStorage().Get(ctx, "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-user-key", value)
}
