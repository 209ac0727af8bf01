package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/crudadmin/model"
)

// PgStore stores revisions in the admin_revisions table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL revision store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const selectRevision = `SELECT id, class, object_id, action, username, snapshot, created_at FROM admin_revisions`

// Append inserts rev and sets its id from the sequence.
func (s *PgStore) Append(ctx context.Context, rev *model.Revision) error {
	snapshot, err := json.Marshal(rev.Object)
	if err != nil {
		return fmt.Errorf("marshal revision snapshot: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO admin_revisions (class, object_id, action, username, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rev.Class, rev.ObjectID, rev.Action, rev.Username, snapshot, rev.Timestamp,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	rev.ID = strconv.FormatInt(id, 10)
	return nil
}

// FindRevisions returns the revisions of an object, newest first.
func (s *PgStore) FindRevisions(ctx context.Context, class, id string) ([]model.Revision, error) {
	rows, err := s.pool.Query(ctx, selectRevision+`
		WHERE class = $1 AND object_id = $2
		ORDER BY id DESC`,
		class, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	revs := []model.Revision{}
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		revs = append(revs, *rev)
	}
	return revs, rows.Err()
}

// Find returns one revision, or nil when it does not exist.
func (s *PgStore) Find(ctx context.Context, class, id, revision string) (*model.Revision, error) {
	revID, err := strconv.ParseInt(revision, 10, 64)
	if err != nil {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, selectRevision+` WHERE class = $1 AND object_id = $2 AND id = $3`, class, id, revID)
	rev, err := scanRevision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get revision: %w", err)
	}
	return rev, nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanRevision(row pgx.Row) (*model.Revision, error) {
	var rev model.Revision
	var id int64
	var snapshot []byte
	if err := row.Scan(&id, &rev.Class, &rev.ObjectID, &rev.Action, &rev.Username, &snapshot, &rev.Timestamp); err != nil {
		return nil, err
	}
	rev.ID = strconv.FormatInt(id, 10)
	if snapshot != nil {
		var obj model.Object
		if err := json.Unmarshal(snapshot, &obj); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		rev.Object = &obj
	}
	return &rev, nil
}
