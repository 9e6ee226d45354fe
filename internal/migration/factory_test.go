package migration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/BaSui01/agentbus/config"
)

func TestNewMigratorFromConfig_Nil(t *testing.T) {
	_, err := NewMigratorFromConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

func TestNewMigratorFromDatabaseConfig_InvalidDriver(t *testing.T) {
	_, err := NewMigratorFromDatabaseConfig(appconfig.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database type")
}

func TestNewMigratorFromDatabaseConfig_SQLite(t *testing.T) {
	requireSQLite3(t)

	dbPath := filepath.Join(t.TempDir(), "factory.db")

	m, err := NewMigratorFromDatabaseConfig(appconfig.DatabaseConfig{
		Driver: "sqlite",
		Name:   dbPath,
	})
	require.NoError(t, err)
	defer m.Close()

	version, dirty, err := m.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)
}

func TestNewMigratorFromURL_InvalidType(t *testing.T) {
	_, err := NewMigratorFromURL("cassandra", "cassandra://localhost")
	require.Error(t, err)
}
