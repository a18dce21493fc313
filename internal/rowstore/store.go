// Package rowstore is the checker's own persistent row table: the CRUD,
// paged-scan, and per-owner filtered queries named in SPEC_FULL.md §6.
package rowstore

import (
	"context"
	"time"

	"github.com/outblock/link-checker/internal/models"
)

// PageResult is one page of a full, identifier-ordered scan.
type PageResult struct {
	Rows []models.Row
	// NextCursor is the last identifier seen on this page; pass it as cursor
	// on the next call. An empty Rows slice means the scan is exhausted.
	NextCursor string
}

// Store is the interface the reconciler, scheduler, and fetcher depend on.
// internal/rowstore/postgres.go provides the pgx-backed implementation;
// internal/rowstore/memstore.go provides an in-memory fake for tests.
type Store interface {
	// ScanPage returns up to pageSize rows with Identifier > cursor, ordered
	// ascending by Identifier, for the reconciler's merge-join.
	ScanPage(ctx context.Context, cursor string, pageSize int) (PageResult, error)

	// BadRows returns up to limit bad rows owned by owner with
	// LastCheckTime before cutoff, ordered ascending by LastCheckTime.
	BadRows(ctx context.Context, owner string, cutoff time.Time, limit int) ([]models.Row, error)

	// GoodOrUnvisitedRows returns up to limit good-or-unvisited rows owned by
	// owner with LastCheckTime before cutoff (unvisited rows have a zero
	// LastCheckTime and therefore sort first), ordered ascending.
	GoodOrUnvisitedRows(ctx context.Context, owner string, cutoff time.Time, limit int) ([]models.Row, error)

	// Owners returns the distinct set of owner ids currently tracked.
	Owners(ctx context.Context) ([]string, error)

	Get(ctx context.Context, identifier string) (models.Row, bool, error)
	Insert(ctx context.Context, row models.Row) error
	Update(ctx context.Context, row models.Row) error
	Delete(ctx context.Context, identifier string) error
}
