package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_TagsSessions(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	var name string
	err := pool.QueryRow(context.Background(), "SELECT current_setting('application_name')").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, applicationName, name)
}

func TestNewPool_RejectsBadDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "postgres://%zz", 0)
	assert.ErrorContains(t, err, "parse postgres dsn")
}
