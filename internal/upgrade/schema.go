// Package upgrade guards the managed-mode relay against running on a
// database whose migration state does not match the binary.
package upgrade

import (
	"context"
	"database/sql"
	"fmt"
)

// RequiredSchemaVersion is the migration version this binary expects.
// Bump together with each new file under migrations/.
const RequiredSchemaVersion = 1

// Status is the result of a schema compatibility check.
type Status struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// Check reads the golang-migrate bookkeeping table and compares it against
// RequiredSchemaVersion. A missing table reads as a fresh database that
// needs migration, not as an error.
func Check(ctx context.Context, db *sql.DB) (*Status, error) {
	var version uint
	var dirty bool
	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		// No rows or no table yet.
		return &Status{RequiredVersion: RequiredSchemaVersion, NeedsMigration: true}, nil
	}

	s := &Status{
		CurrentVersion:  version,
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}
	if dirty {
		return s, nil
	}
	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Problem renders the operator-facing explanation for an incompatible
// status, including the command that fixes it.
func (s *Status) Problem() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf(
			"database schema is dirty at v%d (a migration failed partway); run: interchat migrate force %d, then: interchat migrate up",
			s.CurrentVersion, s.CurrentVersion-1,
		)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Sprintf(
			"database schema v%d is newer than this binary (requires v%d); upgrade the interchat binary",
			s.CurrentVersion, s.RequiredVersion,
		)
	default:
		return fmt.Sprintf(
			"database schema is outdated: current v%d, required v%d; run: interchat migrate up",
			s.CurrentVersion, s.RequiredVersion,
		)
	}
}
