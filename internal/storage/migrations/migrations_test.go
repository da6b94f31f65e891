package migrations

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedFiles(t *testing.T) {
	pg, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_positions.sql", "002_decisions.sql"}, pg)

	ch, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_decisions.sql"}, ch)

	for _, file := range ch {
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
		require.NoError(t, err)
		assert.NoError(t, validateNoSemicolonInStrings(string(data)), file)
		assert.Len(t, splitStatements(string(data)), 1, file)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `
-- header comment
CREATE TABLE a (x UInt8) ENGINE = Memory;

-- second
CREATE TABLE b (y UInt8) ENGINE = Memory;
`
	stmts := splitStatements(sql)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE b"))
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings(`SELECT 'it''s'; SELECT 1;`))

	err := validateNoSemicolonInStrings(`SELECT 'a;b'`)
	assert.True(t, errors.Is(err, ErrSemicolonInString))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/engine")
	require.NoError(t, err)
	assert.Equal(t, "engine", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
