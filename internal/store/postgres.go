package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var postgresSchema string

// pgUniqueViolation is the SQLSTATE Postgres reports for unique index violations.
const pgUniqueViolation = "23505"

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// drillCopyColumns lists the columns written by COPY, in CopyFrom row order.
var drillCopyColumns = []string{"id", "owner_id", "category_id", "name", "name_key", "minutes", "notes", "media_links"}

// Postgres is the pgx-backed store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates tables and indexes if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(postgresSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// ListCategories returns all categories owned by ownerID, ordered by name.
func (p *Postgres) ListCategories(ctx context.Context, ownerID string) ([]Category, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, owner_id, name, created_at
		FROM categories
		WHERE owner_id = $1
		ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("categories rows: %w", err)
	}
	return out, nil
}

// CreateCategory inserts a category with the given (already trimmed) name.
// A name that collides with an existing category of the same owner yields
// an error matching ErrUniqueViolation.
func (p *Postgres) CreateCategory(ctx context.Context, ownerID, name string) (Category, error) {
	c := Category{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Name:    name,
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO categories (id, owner_id, name, name_key)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		toPgUUID(c.ID), ownerID, name, NameKey(name),
	).Scan(&c.CreatedAt)
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", translatePgError(err))
	}
	return c, nil
}

// ListDrills returns all drills owned by ownerID, ordered by name.
func (p *Postgres) ListDrills(ctx context.Context, ownerID string) ([]Drill, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, owner_id, category_id::text, name, minutes, notes, media_links, created_at, updated_at
		FROM drills
		WHERE owner_id = $1
		ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query drills: %w", err)
	}
	defer rows.Close()

	var out []Drill
	for rows.Next() {
		var d Drill
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.CategoryID, &d.Name, &d.Minutes,
			&d.Notes, &d.MediaLinks, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan drill: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("drills rows: %w", err)
	}
	return out, nil
}

// ListDrillNames returns the names of every drill owned by ownerID.
func (p *Postgres) ListDrillNames(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT name FROM drills WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query drill names: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect drill names: %w", err)
	}
	return names, nil
}

// InsertDrills writes all drills in a single transaction using the COPY
// protocol. Either every drill is stored or none is.
func (p *Postgres) InsertDrills(ctx context.Context, drills []NewDrill) ([]string, error) {
	if len(drills) == 0 {
		return nil, nil
	}

	ids := make([]string, len(drills))
	for i := range drills {
		ids[i] = uuid.NewString()
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"drills"}, drillCopyColumns,
		pgx.CopyFromSlice(len(drills), func(i int) ([]any, error) {
			return drillCopyRow(ids[i], drills[i]), nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("copy drills: %w", translatePgError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", translatePgError(err))
	}
	return ids, nil
}

// InsertDrillsEach inserts drills one at a time inside a single transaction,
// isolating each insert in a savepoint so a failing row does not discard
// the others. The returned error is non-nil only when the transaction
// itself could not be used or committed; in that case nothing was stored.
func (p *Postgres) InsertDrillsEach(ctx context.Context, drills []NewDrill) ([]InsertOutcome, error) {
	if len(drills) == 0 {
		return nil, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	outcomes := make([]InsertOutcome, len(drills))
	for i, d := range drills {
		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("create savepoint: %w", err)
		}

		id := uuid.NewString()
		if err := insertDrill(ctx, tx, id, d); err != nil {
			if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return nil, fmt.Errorf("rollback savepoint: %w", rbErr)
			}
			outcomes[i] = InsertOutcome{Err: err}
			continue
		}

		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
		outcomes[i] = InsertOutcome{ID: id}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", translatePgError(err))
	}
	return outcomes, nil
}

func insertDrill(ctx context.Context, db DBTX, id string, d NewDrill) error {
	_, err := db.Exec(ctx, `
		INSERT INTO drills (id, owner_id, category_id, name, name_key, minutes, notes, media_links)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		drillCopyRow(id, d)...,
	)
	if err != nil {
		return fmt.Errorf("insert drill: %w", translatePgError(err))
	}
	return nil
}

// drillCopyRow returns values in drillCopyColumns order.
func drillCopyRow(id string, d NewDrill) []any {
	return []any{
		toPgUUID(id),
		d.OwnerID,
		toPgUUID(d.CategoryID),
		d.Name,
		NameKey(d.Name),
		int32(d.Minutes),
		toPgText(d.Notes),
		toPgText(d.MediaLinks),
	}
}

// RecordImportRun stores a completed import's summary.
func (p *Postgres) RecordImportRun(ctx context.Context, run ImportRun) (ImportRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO import_runs (id, owner_id, source, policy, total_rows, imported, skipped, failed, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		toPgUUID(run.ID), run.OwnerID, run.Source, run.Policy,
		run.TotalRows, run.Imported, run.Skipped, run.Failed, run.DurationMs,
	).Scan(&run.CreatedAt)
	if err != nil {
		return ImportRun{}, fmt.Errorf("insert import run: %w", translatePgError(err))
	}
	return run, nil
}

// ListImportRuns returns the owner's most recent imports, newest first.
func (p *Postgres) ListImportRuns(ctx context.Context, ownerID string, limit int) ([]ImportRun, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, owner_id, source, policy, total_rows, imported, skipped, failed, duration_ms, created_at
		FROM import_runs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query import runs: %w", err)
	}
	defer rows.Close()

	var out []ImportRun
	for rows.Next() {
		var r ImportRun
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Source, &r.Policy, &r.TotalRows,
			&r.Imported, &r.Skipped, &r.Failed, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("import runs rows: %w", err)
	}
	return out, nil
}

// PruneImportRuns deletes import history older than before.
func (p *Postgres) PruneImportRuns(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM import_runs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune import runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// translatePgError tags unique violations so callers can match them with
// errors.Is(err, ErrUniqueViolation).
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &ConstraintError{Constraint: pgErr.ConstraintName, Err: err}
	}
	return err
}

// toPgText converts an optional string to pgtype.Text.
func toPgText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

// toPgUUID converts a string to pgtype.UUID.
// Returns invalid if the string is empty or not a valid UUID.
func toPgUUID(s string) pgtype.UUID {
	if s == "" {
		return pgtype.UUID{Valid: false}
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}
