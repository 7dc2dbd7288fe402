package db

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationVersions_SortedSQLOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_b.sql":   {Data: []byte("SELECT 2")},
		"migrations/0001_a.sql":   {Data: []byte("SELECT 1")},
		"migrations/README.md":    {Data: []byte("notes")},
		"migrations/sub/0003.sql": {Data: []byte("SELECT 3")},
	}
	versions, err := migrationVersions(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, versions)
}

func TestEmbeddedMigrations_CreateLedgerTables(t *testing.T) {
	versions, err := MigrationVersions()
	require.NoError(t, err)
	require.NotEmpty(t, versions)

	body, err := migrationFiles.ReadFile("migrations/" + versions[0])
	require.NoError(t, err)
	sql := string(body)
	for _, table := range []string{"inventory_items", "inventory_movements", "invoices", "invoice_items", "invoice_events"} {
		assert.True(t, strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
	assert.Contains(t, sql, "CHECK (quantity >= 0)")
}
