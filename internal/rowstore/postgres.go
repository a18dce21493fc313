package rowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outblock/link-checker/internal/models"
)

// Postgres is the pgx-backed Store, mirroring this codebase's
// pgxpool.Pool-wrapped-by-one-struct repository shape.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres connects to dsn and applies the pool-size overrides, the same
// MaxConns/MinConns knobs this codebase exposes via DB_MAX_OPEN_CONNS /
// DB_MAX_IDLE_CONNS.
func NewPostgres(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db dsn: %w", err)
	}
	if maxOpenConns > 0 {
		cfg.MaxConns = int32(maxOpenConns)
	}
	if maxIdleConns > 0 {
		cfg.MinConns = int32(maxIdleConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.db.Close() }

// Migrate executes a schema script passed in as SQL text.
func (p *Postgres) Migrate(ctx context.Context, schemaSQL string) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func scanRow(row pgx.Row) (models.Row, error) {
	var r models.Row
	var lastCheck *time.Time
	var historyJSON []byte
	if err := row.Scan(&r.Identifier, &r.OwnerID, &r.Target, &lastCheck, &r.IsGood, &r.IsBad, &historyJSON); err != nil {
		return models.Row{}, err
	}
	if lastCheck != nil {
		r.LastCheckTime = *lastCheck
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &r.History); err != nil {
			return models.Row{}, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return r, nil
}

const rowColumns = "identifier, owner_id, target, last_check_time, is_good, is_bad, history"

// ScanPage implements Store.
func (p *Postgres) ScanPage(ctx context.Context, cursor string, pageSize int) (PageResult, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+rowColumns+`
		FROM link_checker.rows
		WHERE identifier > $1
		ORDER BY identifier ASC
		LIMIT $2`,
		cursor, pageSize,
	)
	if err != nil {
		return PageResult{}, fmt.Errorf("scan page: %w", err)
	}
	defer rows.Close()

	var out PageResult
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return PageResult{}, fmt.Errorf("scan row: %w", err)
		}
		out.Rows = append(out.Rows, r)
		out.NextCursor = r.Identifier
	}
	return out, rows.Err()
}

// BadRows implements Store.
func (p *Postgres) BadRows(ctx context.Context, owner string, cutoff time.Time, limit int) ([]models.Row, error) {
	return p.queryOwnerRows(ctx, `
		SELECT `+rowColumns+`
		FROM link_checker.rows
		WHERE owner_id = $1 AND is_bad AND last_check_time < $2
		ORDER BY last_check_time ASC
		LIMIT $3`, owner, cutoff, limit)
}

// GoodOrUnvisitedRows implements Store.
func (p *Postgres) GoodOrUnvisitedRows(ctx context.Context, owner string, cutoff time.Time, limit int) ([]models.Row, error) {
	return p.queryOwnerRows(ctx, `
		SELECT `+rowColumns+`
		FROM link_checker.rows
		WHERE owner_id = $1 AND NOT is_bad AND (last_check_time IS NULL OR last_check_time < $2)
		ORDER BY last_check_time ASC NULLS FIRST
		LIMIT $3`, owner, cutoff, limit)
}

func (p *Postgres) queryOwnerRows(ctx context.Context, sql string, owner string, cutoff time.Time, limit int) ([]models.Row, error) {
	rows, err := p.db.Query(ctx, sql, owner, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query owner rows: %w", err)
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Owners implements Store.
func (p *Postgres) Owners(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT DISTINCT owner_id FROM link_checker.rows ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, identifier string) (models.Row, bool, error) {
	row := p.db.QueryRow(ctx, `SELECT `+rowColumns+` FROM link_checker.rows WHERE identifier = $1`, identifier)
	r, err := scanRow(row)
	if err == pgx.ErrNoRows {
		return models.Row{}, false, nil
	}
	if err != nil {
		return models.Row{}, false, fmt.Errorf("get row %q: %w", identifier, err)
	}
	return r, true, nil
}

func historyJSON(r models.Row) ([]byte, error) {
	if r.History == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.History)
}

// Insert implements Store.
func (p *Postgres) Insert(ctx context.Context, r models.Row) error {
	hist, err := historyJSON(r)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO link_checker.rows (identifier, owner_id, target, last_check_time, is_good, is_bad, history)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.Identifier, r.OwnerID, r.Target, nullableTime(r.LastCheckTime), r.IsGood, r.IsBad, hist,
	)
	if err != nil {
		return fmt.Errorf("insert row %q: %w", r.Identifier, err)
	}
	return nil
}

// Update implements Store.
func (p *Postgres) Update(ctx context.Context, r models.Row) error {
	hist, err := historyJSON(r)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		UPDATE link_checker.rows
		SET owner_id = $2, target = $3, last_check_time = $4, is_good = $5, is_bad = $6, history = $7
		WHERE identifier = $1`,
		r.Identifier, r.OwnerID, r.Target, nullableTime(r.LastCheckTime), r.IsGood, r.IsBad, hist,
	)
	if err != nil {
		return fmt.Errorf("update row %q: %w", r.Identifier, err)
	}
	return nil
}

// Delete implements Store.
func (p *Postgres) Delete(ctx context.Context, identifier string) error {
	_, err := p.db.Exec(ctx, `DELETE FROM link_checker.rows WHERE identifier = $1`, identifier)
	if err != nil {
		return fmt.Errorf("delete row %q: %w", identifier, err)
	}
	return nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
