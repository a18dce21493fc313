// Package scheduler is the round-robin, per-owner workset dispatcher: §4.3 of
// SPEC_FULL.md. One mutex guards the worksets, the rotating cursor, and each
// owner's revisit cooldown and in-flight lock.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/outblock/link-checker/internal/exclusion"
	"github.com/outblock/link-checker/internal/models"
)

// Outcome tags the result of a dispatch attempt, replacing the
// sentinel-or-tuple return the original system used (SPEC_FULL.md §9).
type Outcome int

const (
	// Ready means (Index, Row) is a valid dispatch.
	Ready Outcome = iota
	// Wait means every unfinished owner is currently locked or in cooldown;
	// retry shortly.
	Wait
	// Finished means every owner in the round is done or excluded.
	Finished
)

// DispatchResult is returned by NextLink.
type DispatchResult struct {
	Outcome Outcome
	Index   int
	Row     models.Row
}

// Scheduler owns one round's worksets, the rotating cursor, and the mutex
// serializing NextLink/MarkChecked, per SPEC_FULL.md §9's "single Scheduler
// value" redesign of the original's global state.
type Scheduler struct {
	mu       sync.Mutex
	worksets []*models.OwnerWorkset
	cursor   int

	excl                    *exclusion.Registry
	ownerRevisitMinInterval time.Duration
	now                     func() time.Time
}

// New builds a Scheduler over worksets for one round.
func New(worksets []*models.OwnerWorkset, excl *exclusion.Registry, ownerRevisitMinInterval time.Duration) *Scheduler {
	return &Scheduler{
		worksets:                worksets,
		excl:                    excl,
		ownerRevisitMinInterval: ownerRevisitMinInterval,
		now:                     time.Now,
	}
}

// Len reports how many owners are in this round's workset vector.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.worksets)
}

// NextLink is the single serialized dispatch entry point, per spec.md
// §4.3.2. It refreshes exclusions, sweeps the cursor starting from its
// current position, and returns Ready/Wait/Finished.
func (s *Scheduler) NextLink(ctx context.Context) DispatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.excl != nil {
		_ = s.excl.Refresh(s.now())
	}

	if len(s.worksets) == 0 {
		return DispatchResult{Outcome: Finished}
	}

	start := s.cursor
	sawUnfinishedBlocked := false
	t := s.now()

	for {
		w := s.worksets[s.cursor]
		excluded := s.excl != nil && s.excl.IsExcluded(w.OwnerID)
		finished := excluded || w.Finished()

		if !finished {
			if !w.IsLocked && t.Sub(w.LastCheckTime) >= s.ownerRevisitMinInterval {
				w.IsLocked = true
				idx := s.cursor
				row := w.Links[w.NextIndex]
				return DispatchResult{Outcome: Ready, Index: idx, Row: row}
			}
			sawUnfinishedBlocked = true
		}

		s.cursor = (s.cursor + 1) % len(s.worksets)
		if s.cursor == start {
			if sawUnfinishedBlocked {
				return DispatchResult{Outcome: Wait}
			}
			return DispatchResult{Outcome: Finished}
		}
	}
}

// MarkChecked records completion of the probe dispatched at index: advances
// NextIndex, stamps LastCheckTime, and clears the lock.
func (s *Scheduler) MarkChecked(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.worksets) {
		return
	}
	w := s.worksets[index]
	w.NextIndex++
	w.LastCheckTime = s.now()
	w.IsLocked = false
}

// Snapshot is a read-only copy of every workset's progress, for the status
// server. It never influences scheduling.
type Snapshot struct {
	OwnerID   string
	Total     int
	NextIndex int
	IsLocked  bool
}

// Snapshot returns the current per-owner progress, for observability only.
func (s *Scheduler) Snapshot() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.worksets))
	for i, w := range s.worksets {
		out[i] = Snapshot{OwnerID: w.OwnerID, Total: len(w.Links), NextIndex: w.NextIndex, IsLocked: w.IsLocked}
	}
	return out
}
