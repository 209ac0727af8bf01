package acl

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/crudadmin/model"
)

// PgStore stores entries in the admin_acl_entries table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL ACL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Entries returns the entries on one object.
func (s *PgStore) Entries(ctx context.Context, class, objectID string) ([]model.ACLEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT class, object_id, kind, identity, permissions
		FROM admin_acl_entries
		WHERE class = $1 AND object_id = $2
		ORDER BY kind, identity`,
		class, objectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query acl entries: %w", err)
	}
	defer rows.Close()

	entries := []model.ACLEntry{}
	for rows.Next() {
		var e model.ACLEntry
		if err := rows.Scan(&e.Class, &e.ObjectID, &e.Kind, &e.Identity, &e.Permissions); err != nil {
			return nil, fmt.Errorf("scan acl entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Replace swaps the entries of one kind inside a transaction.
func (s *PgStore) Replace(ctx context.Context, class, objectID, kind string, entries []model.ACLEntry) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM admin_acl_entries WHERE class = $1 AND object_id = $2 AND kind = $3`,
			class, objectID, kind,
		); err != nil {
			return fmt.Errorf("clear acl entries: %w", err)
		}
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(`
				INSERT INTO admin_acl_entries (class, object_id, kind, identity, permissions)
				VALUES ($1, $2, $3, $4, $5)`,
				class, objectID, kind, e.Identity, e.Permissions,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert acl entries: %w", err)
		}
		return nil
	})
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
