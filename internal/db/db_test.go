package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	cases := []struct {
		in      string
		dialect Dialect
		dsn     string
	}{
		{"postgres://u:p@localhost:5432/gw?sslmode=disable", Postgres, "postgres://u:p@localhost:5432/gw?sslmode=disable"},
		{"postgresql://localhost/gw", Postgres, "postgresql://localhost/gw"},
		{"sqlite::memory:", SQLite, "file::memory:?cache=shared&_foreign_keys=on"},
		{"sqlite://data/gw.db", SQLite, "file:data/gw.db?_busy_timeout=5000&_foreign_keys=on"},
		{"sqlite:gw.db?mode=rwc", SQLite, "file:gw.db?mode=rwc&_busy_timeout=5000&_foreign_keys=on"},
		{"sqlite:file:t1?mode=memory&cache=shared", SQLite, "file:t1?mode=memory&cache=shared&_busy_timeout=5000&_foreign_keys=on"},
	}
	for _, tc := range cases {
		dialect, dsn, err := ParseURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.dialect, dialect, tc.in)
		assert.Equal(t, tc.dsn, dsn, tc.in)
	}

	_, _, err := ParseURL("mysql://localhost/gw")
	assert.Error(t, err)
	_, _, err = ParseURL("  ")
	assert.Error(t, err)
}

func TestRedactDSN(t *testing.T) {
	redacted := redactDSN("postgres://gw:secret@db:5432/gw")
	assert.NotContains(t, redacted, "secret")
	assert.Contains(t, redacted, "@db:5432/gw")
	assert.Equal(t, "(invalid DATABASE_URL)", redactDSN("postgres://%zz"))
}

func TestOpenSQLiteAndMigrate(t *testing.T) {
	database, dialect, err := Open(context.Background(), "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.Equal(t, SQLite, dialect)

	require.NoError(t, Migrate(database, dialect))
	// Re-running is a no-op.
	require.NoError(t, Migrate(database, dialect))

	for _, table := range []string{"sessions", "auth_data", "chat_history"} {
		var name string
		err := database.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}
