// Package checker drives the outer loop: reconciliation cycles containing N
// processing rounds, worker lifecycle, round timeout, and shutdown
// (SPEC_FULL.md §4.5).
package checker

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/outblock/link-checker/internal/exclusion"
	"github.com/outblock/link-checker/internal/fetch"
	"github.com/outblock/link-checker/internal/models"
	"github.com/outblock/link-checker/internal/reconcile"
	"github.com/outblock/link-checker/internal/rowstore"
	"github.com/outblock/link-checker/internal/scheduler"
	"github.com/outblock/link-checker/internal/verdict"
)

// Config bundles the tunables the loop and its workers need.
type Config struct {
	TableUpdateCycle        time.Duration
	GoodRecheckMinInterval  time.Duration
	BadRecheckMinInterval   time.Duration
	OwnerRevisitMinInterval time.Duration
	NumWorkers              int
	WorksetOwnerMaxLinks    int
	CheckTimeout            time.Duration
	HistoryCapacity         int

	EmptyWorksetSleep time.Duration // default 60s, overridable for tests
	WaitSleep         time.Duration // default 1s, overridable for tests
}

// Checker owns the row store, exclusion registry, fetcher, and sink that
// every cycle and round are built from.
type Checker struct {
	cfg      Config
	store    rowstore.Store
	excl     *exclusion.Registry
	fetcher  *fetch.Fetcher
	sink     verdict.Sink
	limiter  *rate.Limiter

	mu           sync.Mutex
	currentSched *scheduler.Scheduler // exposed read-only to the status server
}

// New builds a Checker. limiter may be nil to disable the global fetch-rate
// ceiling (SPEC_FULL.md §4.3 addition).
func New(cfg Config, store rowstore.Store, excl *exclusion.Registry, fetcher *fetch.Fetcher, sink verdict.Sink, limiter *rate.Limiter) *Checker {
	if cfg.EmptyWorksetSleep == 0 {
		cfg.EmptyWorksetSleep = 60 * time.Second
	}
	if cfg.WaitSleep == 0 {
		cfg.WaitSleep = time.Second
	}
	return &Checker{cfg: cfg, store: store, excl: excl, fetcher: fetcher, sink: sink, limiter: limiter}
}

// CurrentScheduler returns the in-flight round's scheduler, or nil between
// rounds. Used only by the status server; never mutated from there.
func (c *Checker) CurrentScheduler() *scheduler.Scheduler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSched
}

func (c *Checker) setCurrentScheduler(s *scheduler.Scheduler) {
	c.mu.Lock()
	c.currentSched = s
	c.mu.Unlock()
}

// Run drives reconciliation cycles, each containing one or more processing
// rounds, until ctx is cancelled.
func (c *Checker) Run(ctx context.Context, remote reconcilerSource) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cycleStart := time.Now()
		if err := c.reconcileTable(ctx, remote); err != nil {
			log.Printf("[checker] reconcile cycle error: %v", err)
		}

		firstRound := true
		for firstRound || time.Until(cycleStart.Add(c.cfg.TableUpdateCycle)) > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			worksets, err := scheduler.LoadWorksets(ctx, c.store, c.excl, scheduler.LoadParams{
				MaxLinksPerOwner:       c.cfg.WorksetOwnerMaxLinks,
				GoodRecheckMinInterval: c.cfg.GoodRecheckMinInterval,
				BadRecheckMinInterval:  c.cfg.BadRecheckMinInterval,
			}, time.Now())
			if err != nil {
				log.Printf("[checker] load workset error: %v", err)
				worksets = nil
			}

			if len(worksets) == 0 {
				select {
				case <-time.After(c.cfg.EmptyWorksetSleep):
				case <-ctx.Done():
					return ctx.Err()
				}
				firstRound = false
				continue
			}

			sched := scheduler.New(worksets, c.excl, c.cfg.OwnerRevisitMinInterval)
			c.setCurrentScheduler(sched)

			var remaining time.Duration
			if firstRound {
				remaining = 0 // no cap: at least one full pass is guaranteed
			} else {
				cycleRemaining := time.Until(cycleStart.Add(c.cfg.TableUpdateCycle))
				roundCap := time.Duration(c.cfg.WorksetOwnerMaxLinks) * (c.cfg.OwnerRevisitMinInterval + time.Second)
				remaining = minDuration(cycleRemaining, roundCap)
			}

			checksPerSec := c.runRound(ctx, sched, remaining)
			log.Printf("[checker] round complete: %.2f checks/sec", checksPerSec)

			c.setCurrentScheduler(nil)
			firstRound = false
		}
	}
}

// reconcilerSource is the narrow slice of reconcile.Reconciler this package
// needs, letting callers supply a pre-built Reconciler without an import
// cycle on identifierstore.
type reconcilerSource interface {
	Run(ctx context.Context) (reconcile.Stats, error)
}

func (c *Checker) reconcileTable(ctx context.Context, remote reconcilerSource) error {
	stats, err := remote.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("[checker] reconcile: inserted=%d deleted=%d updated=%d unchanged=%d",
		stats.Inserted, stats.Deleted, stats.Updated, stats.Unchanged)
	return nil
}

// runRound spawns NumWorkers workers against sched and waits for them to
// drain the round or for timeout (when non-zero) to elapse. It returns the
// observed checks-per-second rate.
func (c *Checker) runRound(ctx context.Context, sched *scheduler.Scheduler, timeout time.Duration) float64 {
	roundCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		roundCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var checks int64
	var mu sync.Mutex
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[checker] worker panic: %v", r)
				}
			}()
			n := c.workerLoop(roundCtx, sched)
			mu.Lock()
			checks += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(checks) / elapsed
}

// workerLoop implements the worker body of SPEC_FULL.md §4.5: loop on
// NextLink; on Finished exit; on Wait sleep briefly; otherwise fetch and
// MarkChecked. It returns the number of probes it completed.
func (c *Checker) workerLoop(ctx context.Context, sched *scheduler.Scheduler) int64 {
	var completed int64
	for {
		if ctx.Err() != nil {
			return completed
		}

		result := sched.NextLink(ctx)
		switch result.Outcome {
		case scheduler.Finished:
			return completed
		case scheduler.Wait:
			select {
			case <-time.After(c.cfg.WaitSleep):
			case <-ctx.Done():
				return completed
			}
			continue
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return completed
			}
		}

		row := result.Row
		probeTime := time.Now()
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.CheckTimeout)
		outcome := c.fetcher.Fetch(fetchCtx, row.Target)
		cancel()

		entry := models.HistoryEntry{
			Time:       probeTime,
			ReturnCode: outcome.ReturnCode,
			Mime:       outcome.Mime,
			Exception:  outcome.Exception,
		}
		row.AppendHistory(entry, c.cfg.HistoryCapacity)

		if c.sink != nil {
			if err := c.sink.RecordProbe(ctx, row); err != nil {
				log.Printf("[checker] persist row %q: %v", row.Identifier, err)
			}
		}

		sched.MarkChecked(result.Index)
		completed++
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
