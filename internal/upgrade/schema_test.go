package upgrade

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newMigrationsTable(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE schema_migrations (version BIGINT NOT NULL, dirty BOOLEAN NOT NULL)`)
	require.NoError(t, err)
	return db
}

func setVersion(t *testing.T, db *sql.DB, version int, dirty bool) {
	t.Helper()
	_, err := db.Exec(`DELETE FROM schema_migrations`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirty)
	require.NoError(t, err)
}

func TestCheckFreshDatabaseNeedsMigration(t *testing.T) {
	db := newMigrationsTable(t)

	s, err := Check(context.Background(), db)
	require.NoError(t, err)
	require.False(t, s.Compatible)
	require.True(t, s.NeedsMigration)
	require.Equal(t, uint(RequiredSchemaVersion), s.RequiredVersion)
}

func TestCheckMissingTableReadsAsFresh(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := Check(context.Background(), db)
	require.NoError(t, err)
	require.True(t, s.NeedsMigration)
}

func TestCheckCurrentVersionIsCompatible(t *testing.T) {
	db := newMigrationsTable(t)
	setVersion(t, db, RequiredSchemaVersion, false)

	s, err := Check(context.Background(), db)
	require.NoError(t, err)
	require.True(t, s.Compatible)
	require.False(t, s.NeedsMigration)
	require.False(t, s.Dirty)
}

func TestCheckDirtySchemaIsNotCompatible(t *testing.T) {
	db := newMigrationsTable(t)
	setVersion(t, db, RequiredSchemaVersion, true)

	s, err := Check(context.Background(), db)
	require.NoError(t, err)
	require.False(t, s.Compatible)
	require.True(t, s.Dirty)
	require.Contains(t, s.Problem(), "migrate force")
}

func TestCheckNewerSchemaMeansOldBinary(t *testing.T) {
	db := newMigrationsTable(t)
	setVersion(t, db, RequiredSchemaVersion+5, false)

	s, err := Check(context.Background(), db)
	require.NoError(t, err)
	require.False(t, s.Compatible)
	require.False(t, s.NeedsMigration)
	require.Contains(t, s.Problem(), "newer than this binary")
}
