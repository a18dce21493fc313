// Package verdict defines the sink external collaborator that persists
// per-identifier check results (SPEC_FULL.md §6). This repo's own row store
// doubles as the sink, since "persist the row" is in scope while "notify on
// chronic failure" is not.
package verdict

import (
	"context"

	"github.com/outblock/link-checker/internal/models"
)

// Sink persists the outcome of one probe against row.
type Sink interface {
	RecordProbe(ctx context.Context, row models.Row) error
}

// RowStoreSink adapts a rowstore.Store's Update method into a Sink.
type RowStoreSink struct {
	Updater interface {
		Update(ctx context.Context, row models.Row) error
	}
}

// RecordProbe implements Sink.
func (s RowStoreSink) RecordProbe(ctx context.Context, row models.Row) error {
	return s.Updater.Update(ctx, row)
}
