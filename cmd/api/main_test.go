package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalix/gateway/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", t.TempDir() + "/missing.env"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := run(t, "token", "--subject", "ops", "--tenant", "shop-1")
	require.NoError(t, err)

	claims, err := auth.NewJWTService("cli-secret").VerifyToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, []string{"shop-1"}, claims.Tenants)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := run(t, "token")
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestAPIKeyCommand(t *testing.T) {
	out, err := run(t, "apikey")
	require.NoError(t, err)

	var key, entry string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "key:":
			key = fields[1]
		case "API_KEYS:":
			entry = fields[1]
		}
	}
	require.NotEmpty(t, key)
	_, ok := auth.NewKeySet([]string{entry}).Match(key)
	assert.True(t, ok, "the printed digest accepts the printed key")
}

func TestMigrateCommand_SQLite(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:"+t.TempDir()+"/gw.db")
	_, err := run(t, "migrate")
	require.NoError(t, err)
	_, err = run(t, "migrate", "--status")
	require.NoError(t, err)
}
