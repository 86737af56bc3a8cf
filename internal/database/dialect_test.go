package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "mysql"} {
		d, err := DialectFor(driver)
		require.NoError(t, err)
		assert.Equal(t, Dialect(driver), d)
	}

	_, err := DialectFor("sqlserver")
	assert.Error(t, err)
}

func TestDialect_Rebind(t *testing.T) {
	query := "SELECT * FROM t WHERE a = ? AND b = '?' AND c IN (?, ?)"

	assert.Equal(t, query, DialectSQLite.Rebind(query))
	assert.Equal(t, query, DialectMySQL.Rebind(query))
	assert.Equal(t,
		"SELECT * FROM t WHERE a = $1 AND b = '?' AND c IN ($2, $3)",
		DialectPostgres.Rebind(query),
	)
}

func TestDialect_MigrationsDir(t *testing.T) {
	assert.Equal(t, "sqlite", DialectSQLite.MigrationsDir())
	assert.Equal(t, "postgresql", DialectPostgres.MigrationsDir())
	assert.Equal(t, "mysql", DialectMySQL.MigrationsDir())
}

func TestDialect_QuoteIdent(t *testing.T) {
	assert.Equal(t, `"tasks_records"`, DialectSQLite.QuoteIdent("tasks_records"))
	assert.Equal(t, `"tasks_records"`, DialectPostgres.QuoteIdent("tasks_records"))
	assert.Equal(t, "`tasks_records`", DialectMySQL.QuoteIdent("tasks_records"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", Placeholders(0))
	assert.Equal(t, "?", Placeholders(1))
	assert.Equal(t, "?,?,?", Placeholders(3))
}
