package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalix/gateway/internal/db"
)

// gatewayTables lists the tables cleared between integration tests, children first.
var gatewayTables = []string{"chat_history", "auth_data", "sessions"}

// OpenTestDB opens DATABASE_URL, runs migrations and empties the gateway
// tables. Tests calling it are skipped when DATABASE_URL is unset.
func OpenTestDB(t *testing.T) (*sql.DB, db.Dialect) {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx := context.Background()
	database, dialect, err := db.Open(ctx, databaseURL)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database, dialect), "migrations must run successfully")
	require.NoError(t, TruncateGatewayTables(ctx, database, dialect), "truncate gateway tables")
	return database, dialect
}

// TruncateGatewayTables removes every session, credential and chat row.
func TruncateGatewayTables(ctx context.Context, database *sql.DB, dialect db.Dialect) error {
	if dialect == db.Postgres {
		_, err := database.ExecContext(ctx, "TRUNCATE TABLE chat_history, auth_data, sessions RESTART IDENTITY CASCADE")
		if err != nil {
			return fmt.Errorf("truncate gateway tables: %w", err)
		}
		return nil
	}
	for _, table := range gatewayTables {
		if _, err := database.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
