// Package reconcile merge-joins the checker's own row table against the
// authoritative identifier store, producing inserts, deletes, and updates.
// Each pass diffs the local view against the external source of truth and
// logs per-item failures without aborting the whole pass.
package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/outblock/link-checker/internal/exclusion"
	"github.com/outblock/link-checker/internal/identifierstore"
	"github.com/outblock/link-checker/internal/models"
	"github.com/outblock/link-checker/internal/rowstore"
)

// PageSize bounds memory for both streams' paged fetches.
const PageSize = 1000

// Stats summarizes one reconcile cycle, for logging.
type Stats struct {
	Inserted  int
	Deleted   int
	Updated   int
	Unchanged int
}

// Reconciler performs one merge-join pass per Run call.
type Reconciler struct {
	local  rowstore.Store
	remote identifierstore.Store
	excl   *exclusion.Registry
}

// New builds a Reconciler over local (the checker's own table) and remote
// (the authoritative identifier store).
func New(local rowstore.Store, remote identifierstore.Store, excl *exclusion.Registry) *Reconciler {
	return &Reconciler{local: local, remote: remote, excl: excl}
}

// Run executes one full merge-join, paging both streams to bounded memory.
// Store paging failures abort the cycle; per-row persistence failures are
// logged and skipped so the cycle proceeds.
func (rc *Reconciler) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	if rc.remote == nil {
		return stats, fmt.Errorf("reconcile: no identifier-service client configured")
	}

	localCursor := ""
	remoteCursor := ""

	localPage, err := rc.local.ScanPage(ctx, localCursor, PageSize)
	if err != nil {
		return stats, err
	}
	remotePage, err := rc.fetchEligibleRemotePage(ctx, remoteCursor)
	if err != nil {
		return stats, err
	}

	li, ri := 0, 0
	for {
		// Refill exhausted pages.
		if li >= len(localPage.Rows) && localPage.NextCursor != "" {
			localPage, err = rc.local.ScanPage(ctx, localPage.NextCursor, PageSize)
			if err != nil {
				return stats, err
			}
			li = 0
			if len(localPage.Rows) == 0 {
				localPage.NextCursor = ""
			}
		}
		if ri >= len(remotePage.Rows) && remotePage.NextCursor != "" {
			remotePage, err = rc.fetchEligibleRemotePage(ctx, remotePage.NextCursor)
			if err != nil {
				return stats, err
			}
			ri = 0
			if len(remotePage.Rows) == 0 {
				remotePage.NextCursor = ""
			}
		}

		localExhausted := li >= len(localPage.Rows)
		remoteExhausted := ri >= len(remotePage.Rows)
		if localExhausted && remoteExhausted {
			break
		}

		switch {
		case remoteExhausted || (!localExhausted && localPage.Rows[li].Identifier < remotePage.Rows[ri].Identifier):
			if err := rc.local.Delete(ctx, localPage.Rows[li].Identifier); err != nil {
				log.Printf("[reconciler] delete %q: %v", localPage.Rows[li].Identifier, err)
			} else {
				stats.Deleted++
			}
			li++

		case localExhausted || remotePage.Rows[ri].Identifier < localPage.Rows[li].Identifier:
			rec := remotePage.Rows[ri]
			row := models.Row{Identifier: rec.Identifier, OwnerID: rec.OwnerID, Target: rec.Target}
			if err := rc.local.Insert(ctx, row); err != nil {
				log.Printf("[reconciler] insert %q: %v", rec.Identifier, err)
			} else {
				stats.Inserted++
			}
			ri++

		default:
			localRow := localPage.Rows[li]
			rec := remotePage.Rows[ri]
			if localRow.OwnerID != rec.OwnerID || localRow.Target != rec.Target {
				localRow.ResetForNewTarget(rec.OwnerID, rec.Target)
				if err := rc.local.Update(ctx, localRow); err != nil {
					log.Printf("[reconciler] update %q: %v", rec.Identifier, err)
				} else {
					stats.Updated++
				}
			} else {
				stats.Unchanged++
			}
			li++
			ri++
		}
	}

	return stats, nil
}

// fetchEligibleRemotePage pages the remote store until it has a non-empty
// filtered page or the stream is exhausted, since a page of store rows may be
// entirely ineligible (test identifiers, default targets, permanently
// excluded owners).
func (rc *Reconciler) fetchEligibleRemotePage(ctx context.Context, cursor string) (remotePage, error) {
	for {
		recs, err := rc.remote.FetchPage(ctx, cursor, PageSize)
		if err != nil {
			return remotePage{}, err
		}
		if len(recs) == 0 {
			return remotePage{}, nil
		}

		var page remotePage
		for _, rec := range recs {
			cursor = rec.Identifier
			if !identifierstore.Eligible(rec) {
				continue
			}
			if rc.excl != nil && rc.excl.IsPermanent(rec.OwnerID) {
				continue
			}
			page.Rows = append(page.Rows, rec)
		}
		page.NextCursor = cursor
		if len(page.Rows) > 0 || len(recs) < PageSize {
			return page, nil
		}
		// Entire page was filtered out; keep paging for more eligible rows.
	}
}

type remotePage struct {
	Rows       []identifierstore.Record
	NextCursor string
}
