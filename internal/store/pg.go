package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/model"
)

//go:embed schema.sql
var schema string

// Migrate creates the object, revision and ACL tables when missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PgModelManager is a PostgreSQL-backed model manager using pgx/v5.
type PgModelManager struct {
	pool     *pgxpool.Pool
	registry *datagrid.Registry
}

// NewPgModelManager creates a PostgreSQL model manager.
func NewPgModelManager(pool *pgxpool.Pool, registry *datagrid.Registry) *PgModelManager {
	return &PgModelManager{pool: pool, registry: registry}
}

const selectObject = `SELECT class, id, fields, version, created_at, updated_at FROM admin_objects`

// Find retrieves an object, or nil when it does not exist.
func (s *PgModelManager) Find(ctx context.Context, class, id string) (*model.Object, error) {
	row := s.pool.QueryRow(ctx, selectObject+` WHERE class = $1 AND id = $2`, class, id)
	obj, err := scanObject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewModelManagerError("find "+class, err)
	}
	return obj, nil
}

// Create inserts a new object.
func (s *PgModelManager) Create(ctx context.Context, obj *model.Object) error {
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}
	fieldsJSON, err := json.Marshal(obj.Fields)
	if err != nil {
		return model.NewModelManagerError("marshal fields", err)
	}
	ts := now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO admin_objects (class, id, fields, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $4)`,
		obj.Class, obj.ID, fieldsJSON, ts,
	)
	if err != nil {
		return model.NewModelManagerError("insert "+obj.Class, err)
	}
	obj.Version = 1
	obj.CreatedAt, obj.UpdatedAt = ts, ts
	return nil
}

// Update persists obj with optimistic locking on its version.
func (s *PgModelManager) Update(ctx context.Context, obj *model.Object) error {
	fieldsJSON, err := json.Marshal(obj.Fields)
	if err != nil {
		return model.NewModelManagerError("marshal fields", err)
	}
	ts := now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE admin_objects SET fields = $1, version = version + 1, updated_at = $2
		WHERE class = $3 AND id = $4 AND version = $5`,
		fieldsJSON, ts, obj.Class, obj.ID, obj.Version,
	)
	if err != nil {
		return model.NewModelManagerError("update "+obj.Class, err)
	}
	if tag.RowsAffected() == 0 {
		var stored int64
		err := s.pool.QueryRow(ctx,
			`SELECT version FROM admin_objects WHERE class = $1 AND id = $2`, obj.Class, obj.ID,
		).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(obj.Class, obj.ID)
		}
		if err != nil {
			return model.NewModelManagerError("update "+obj.Class, err)
		}
		return lockConflict(obj, stored)
	}
	obj.Version++
	obj.UpdatedAt = ts
	return nil
}

// Delete removes obj.
func (s *PgModelManager) Delete(ctx context.Context, obj *model.Object) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM admin_objects WHERE class = $1 AND id = $2`, obj.Class, obj.ID)
	if err != nil {
		return model.NewModelManagerError("delete "+obj.Class, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(obj.Class, obj.ID)
	}
	return nil
}

// BatchDelete removes every object matched by q, ignoring pagination.
func (s *PgModelManager) BatchDelete(ctx context.Context, class string, q *datagrid.Query) (int, error) {
	scoped := q.Clone()
	scoped.Class = class
	where, args, err := s.where(scoped)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM admin_objects WHERE `+where, args...)
	if err != nil {
		return 0, model.NewModelManagerError("batch delete "+class, err)
	}
	return int(tag.RowsAffected()), nil
}

// AddIdentifiersToQuery restricts q to the given ids.
func (s *PgModelManager) AddIdentifiersToQuery(_ string, q *datagrid.Query, ids []string) {
	q.RestrictTo(ids)
}

// Execute returns the page of objects selected by q.
func (s *PgModelManager) Execute(ctx context.Context, q *datagrid.Query) ([]*model.Object, error) {
	var out []*model.Object
	for obj, err := range s.Iterate(ctx, q) {
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Count returns the number of objects matched by q.
func (s *PgModelManager) Count(ctx context.Context, q *datagrid.Query) (int, error) {
	where, args, err := s.where(q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM admin_objects WHERE `+where, args...).Scan(&n); err != nil {
		return 0, model.NewModelManagerError("count "+q.Class, err)
	}
	return n, nil
}

// Iterate streams the objects selected by q, honouring its bounds.
func (s *PgModelManager) Iterate(ctx context.Context, q *datagrid.Query) iter.Seq2[*model.Object, error] {
	return func(yield func(*model.Object, error) bool) {
		sql, args, err := s.selectSQL(q)
		if err != nil {
			yield(nil, err)
			return
		}
		rows, err := s.pool.Query(ctx, sql, args...)
		if err != nil {
			yield(nil, model.NewModelManagerError("query "+q.Class, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			obj, err := scanObject(rows)
			if err != nil {
				yield(nil, model.NewModelManagerError("scan "+q.Class, err))
				return
			}
			if !yield(obj, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, model.NewModelManagerError("query "+q.Class, err))
		}
	}
}

// HealthCheck pings the database.
func (s *PgModelManager) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgModelManager) selectSQL(q *datagrid.Query) (string, []any, error) {
	where, args, err := s.where(q)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	b.WriteString(selectObject)
	b.WriteString(" WHERE ")
	b.WriteString(where)

	dir := "ASC"
	if q.Descending() {
		dir = "DESC"
	}
	switch q.SortBy {
	case "":
		fmt.Fprintf(&b, " ORDER BY created_at %s, id %s", dir, dir)
	case SortID, SortCreatedAt, SortUpdatedAt:
		fmt.Fprintf(&b, " ORDER BY %s %s", q.SortBy, dir)
	default:
		args = append(args, q.SortBy)
		fmt.Fprintf(&b, " ORDER BY fields->>$%d %s, id %s", len(args), dir, dir)
	}
	if q.MaxResults > 0 {
		args = append(args, q.MaxResults)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if q.FirstResult > 0 {
		args = append(args, q.FirstResult)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args, nil
}

// where renders the class, identifier and criteria restrictions of q.
func (s *PgModelManager) where(q *datagrid.Query) (string, []any, error) {
	args := []any{q.Class}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	clauses := []string{"class = $1"}

	if q.IsRestricted() {
		clauses = append(clauses, "id = ANY("+arg(q.Identifiers)+")")
	}
	for _, c := range q.Criteria {
		ft, ok := s.registry.Get(c.Type)
		if !ok {
			return "", nil, model.NewConfigurationError(fmt.Sprintf("unknown filter type %q", c.Type))
		}
		expr := "(fields->>" + arg(c.Field) + ")"
		clause, err := ft.SQL(expr, c.Operator, c.Value, arg)
		if err != nil {
			return "", nil, model.NewModelManagerError("filter "+c.Field, err)
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), args, nil
}

func scanObject(row pgx.Row) (*model.Object, error) {
	var obj model.Object
	var fieldsJSON []byte
	if err := row.Scan(&obj.Class, &obj.ID, &fieldsJSON, &obj.Version, &obj.CreatedAt, &obj.UpdatedAt); err != nil {
		return nil, err
	}
	obj.Fields = make(map[string]any)
	if fieldsJSON != nil {
		if err := json.Unmarshal(fieldsJSON, &obj.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	return &obj, nil
}
