package postgres

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

type migration struct {
	version int
	name    string
	sql     string
}

// Schema version tracking:
// 1 - lookup index for return intents by status
// 2 - status checks on lots, transactions and intents
// 3 - index for lot history listing by status
var migrations = []migration{
	{
		version: 1,
		name:    "return_intents_status_index",
		sql: `CREATE INDEX IF NOT EXISTS idx_return_intents_status_created
			ON return_intents (status, created_at)`,
	},
	{
		version: 2,
		name:    "status_checks",
		sql: `
			ALTER TABLE distribution_lots DROP CONSTRAINT IF EXISTS chk_distribution_lots_status;
			ALTER TABLE distribution_lots ADD CONSTRAINT chk_distribution_lots_status
				CHECK (status IN ('pending', 'delivered', 'cancelled'));
			ALTER TABLE transactions DROP CONSTRAINT IF EXISTS chk_transactions_status;
			ALTER TABLE transactions ADD CONSTRAINT chk_transactions_status
				CHECK (status IN ('completed', 'refunded', 'cancelled'));
			ALTER TABLE return_intents DROP CONSTRAINT IF EXISTS chk_return_intents_status;
			ALTER TABLE return_intents ADD CONSTRAINT chk_return_intents_status
				CHECK (status IN ('pending', 'completed', 'needs_reconciliation', 'resolved'));`,
	},
	{
		version: 3,
		name:    "distribution_lots_status_index",
		sql: `CREATE INDEX IF NOT EXISTS idx_distribution_lots_status_created
			ON distribution_lots (status, created_at)`,
	},
}

// Migrate applies the base schema and every migration not yet recorded in
// schema_migrations. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) ([]int, error) {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	applied := map[int]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return nil, err
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ran := make([]int, 0, len(migrations))
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return ran, err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return ran, fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			_ = tx.Rollback()
			return ran, fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return ran, err
		}
		ran = append(ran, m.version)
	}
	return ran, nil
}
