package scheduler

import (
	"context"
	"time"

	"github.com/outblock/link-checker/internal/exclusion"
	"github.com/outblock/link-checker/internal/models"
	"github.com/outblock/link-checker/internal/rowstore"
)

// LoadParams bundles the interval/size tunables §4.3.1 needs.
type LoadParams struct {
	MaxLinksPerOwner        int
	GoodRecheckMinInterval  time.Duration
	BadRecheckMinInterval   time.Duration
}

// LoadWorksets builds one OwnerWorkset per non-excluded owner that has at
// least one eligible link, per spec.md §4.3.1: bad rows (oldest
// LastCheckTime first) whose cooldown has elapsed, topped up with
// good-or-unvisited rows under the same ordering.
func LoadWorksets(ctx context.Context, store rowstore.Store, excl *exclusion.Registry, params LoadParams, now time.Time) ([]*models.OwnerWorkset, error) {
	owners, err := store.Owners(ctx)
	if err != nil {
		return nil, err
	}

	var worksets []*models.OwnerWorkset
	for _, owner := range owners {
		if excl != nil && excl.IsExcluded(owner) {
			continue
		}

		badCutoff := now.Add(-params.BadRecheckMinInterval)
		bad, err := store.BadRows(ctx, owner, badCutoff, params.MaxLinksPerOwner)
		if err != nil {
			return nil, err
		}

		links := append([]models.Row{}, bad...)
		if len(links) < params.MaxLinksPerOwner {
			remaining := params.MaxLinksPerOwner - len(links)
			goodCutoff := now.Add(-params.GoodRecheckMinInterval)
			good, err := store.GoodOrUnvisitedRows(ctx, owner, goodCutoff, remaining)
			if err != nil {
				return nil, err
			}
			links = append(links, good...)
		}

		if len(links) == 0 {
			continue
		}
		worksets = append(worksets, &models.OwnerWorkset{OwnerID: owner, Links: links})
	}
	return worksets, nil
}
