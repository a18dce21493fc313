package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/outblock/link-checker/internal/exclusion"
	"github.com/outblock/link-checker/internal/models"
)

func rowsN(n int, prefix string) []models.Row {
	out := make([]models.Row, n)
	for i := range out {
		out[i] = models.Row{Identifier: prefix + string(rune('a'+i))}
	}
	return out
}

func TestNextLinkRoundRobinsAcrossOwners(t *testing.T) {
	worksets := []*models.OwnerWorkset{
		{OwnerID: "owner-a", Links: rowsN(2, "a")},
		{OwnerID: "owner-b", Links: rowsN(2, "b")},
	}
	s := New(worksets, nil, time.Minute)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	var owners []string
	for i := 0; i < 2; i++ {
		res := s.NextLink(context.Background())
		if res.Outcome != Ready {
			t.Fatalf("dispatch %d: expected Ready, got %v (owners so far %v)", i, res.Outcome, owners)
		}
		owners = append(owners, worksets[res.Index].OwnerID)
		s.MarkChecked(res.Index)
	}
	if owners[0] == owners[1] {
		t.Fatalf("expected the first two dispatches to favor distinct owners, got %v", owners)
	}

	// Once both owners are on cooldown, the round must report Wait rather
	// than starving one owner in favor of the other.
	if res := s.NextLink(context.Background()); res.Outcome != Wait {
		t.Fatalf("expected Wait while both owners are in cooldown, got %v", res.Outcome)
	}

	// After the cooldown elapses, both owners' remaining links dispatch,
	// still alternating.
	clock = clock.Add(2 * time.Minute)
	owners = nil
	for i := 0; i < 2; i++ {
		res := s.NextLink(context.Background())
		if res.Outcome != Ready {
			t.Fatalf("post-cooldown dispatch %d: expected Ready, got %v", i, res.Outcome)
		}
		owners = append(owners, worksets[res.Index].OwnerID)
		s.MarkChecked(res.Index)
	}
	if owners[0] == owners[1] {
		t.Fatalf("expected alternating owners after cooldown elapsed, got %v", owners)
	}
}

func TestNextLinkLocksInFlightOwnerUntilMarkChecked(t *testing.T) {
	worksets := []*models.OwnerWorkset{
		{OwnerID: "owner-a", Links: rowsN(2, "a")},
	}
	s := New(worksets, nil, 0)

	first := s.NextLink(context.Background())
	if first.Outcome != Ready {
		t.Fatalf("expected Ready, got %v", first.Outcome)
	}

	second := s.NextLink(context.Background())
	if second.Outcome != Wait {
		t.Fatalf("expected Wait while the single owner is locked, got %v", second.Outcome)
	}

	s.MarkChecked(first.Index)
	third := s.NextLink(context.Background())
	if third.Outcome != Ready {
		t.Fatalf("expected Ready once the lock clears, got %v", third.Outcome)
	}
}

func TestNextLinkFinishedWhenAllWorksetsDrained(t *testing.T) {
	worksets := []*models.OwnerWorkset{
		{OwnerID: "owner-a", Links: rowsN(1, "a")},
	}
	s := New(worksets, nil, 0)

	res := s.NextLink(context.Background())
	if res.Outcome != Ready {
		t.Fatalf("expected Ready, got %v", res.Outcome)
	}
	s.MarkChecked(res.Index)

	done := s.NextLink(context.Background())
	if done.Outcome != Finished {
		t.Fatalf("expected Finished once every owner is drained, got %v", done.Outcome)
	}
}

func TestNextLinkRespectsOwnerRevisitCooldown(t *testing.T) {
	worksets := []*models.OwnerWorkset{
		{OwnerID: "owner-a", Links: rowsN(2, "a")},
	}
	s := New(worksets, nil, time.Minute)
	fixedNow := time.Now()
	s.now = func() time.Time { return fixedNow }

	first := s.NextLink(context.Background())
	if first.Outcome != Ready {
		t.Fatalf("expected Ready, got %v", first.Outcome)
	}
	s.MarkChecked(first.Index)

	// Still within the cooldown: same owner's next link must not dispatch.
	second := s.NextLink(context.Background())
	if second.Outcome != Finished && second.Outcome != Wait {
		t.Fatalf("expected Wait or Finished within cooldown, got %v", second.Outcome)
	}

	s.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	third := s.NextLink(context.Background())
	if third.Outcome != Ready {
		t.Fatalf("expected Ready once cooldown elapses, got %v", third.Outcome)
	}
}

func TestNextLinkSkipsExcludedOwners(t *testing.T) {
	worksets := []*models.OwnerWorkset{
		{OwnerID: "owner-a", Links: rowsN(1, "a")},
		{OwnerID: "owner-b", Links: rowsN(1, "b")},
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	if err := os.WriteFile(path, []byte("owner-a permanent\n"), 0o644); err != nil {
		t.Fatalf("write exclusion file: %v", err)
	}
	excl := exclusion.New(path, exclusion.IdentityResolver{}, time.Millisecond)
	if err := excl.Refresh(time.Now()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	s := New(worksets, excl, 0)

	res := s.NextLink(context.Background())
	if res.Outcome != Ready {
		t.Fatalf("expected Ready, got %v", res.Outcome)
	}
	if worksets[res.Index].OwnerID != "owner-b" {
		t.Fatalf("expected excluded owner-a to be skipped, dispatched %q", worksets[res.Index].OwnerID)
	}
}

func TestSnapshotReflectsProgressWithoutMutatingState(t *testing.T) {
	worksets := []*models.OwnerWorkset{
		{OwnerID: "owner-a", Links: rowsN(3, "a")},
	}
	s := New(worksets, nil, 0)
	res := s.NextLink(context.Background())
	s.MarkChecked(res.Index)

	snaps := s.Snapshot()
	if len(snaps) != 1 || snaps[0].Total != 3 || snaps[0].NextIndex != 1 {
		t.Fatalf("unexpected snapshot: %+v", snaps)
	}
}
