package reputation

import (
	"os"
	"testing"

	"github.com/mostro-exchange/mostrod/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "mostrod-reputation-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	st, err := store.New(&store.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRateFirstRatingSeedsMean(t *testing.T) {
	e := New(newTestStore(t))

	snap, err := e.Rate("peer-1", 4)
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if snap.TotalReviews != 1 {
		t.Errorf("TotalReviews = %d, want 1", snap.TotalReviews)
	}
	if f, _ := snap.Rating.Float64(); f != 4 {
		t.Errorf("Rating = %v, want 4", f)
	}
	if snap.MinRating != 4 || snap.MaxRating != 4 {
		t.Errorf("MinRating/MaxRating = %d/%d, want 4/4", snap.MinRating, snap.MaxRating)
	}
}

func TestRateRunningMean(t *testing.T) {
	e := New(newTestStore(t))

	ratings := []int{5, 1, 3}
	var snap *Snapshot
	var err error
	for _, r := range ratings {
		snap, err = e.Rate("peer-2", r)
		if err != nil {
			t.Fatalf("Rate() error = %v", err)
		}
	}

	if snap.TotalReviews != len(ratings) {
		t.Errorf("TotalReviews = %d, want %d", snap.TotalReviews, len(ratings))
	}
	// mean of 5, 1, 3 = 3
	if f, _ := snap.Rating.Float64(); f != 3 {
		t.Errorf("running mean = %v, want 3", f)
	}
	if snap.MinRating != 1 {
		t.Errorf("MinRating = %d, want 1", snap.MinRating)
	}
	if snap.MaxRating != 5 {
		t.Errorf("MaxRating = %d, want 5", snap.MaxRating)
	}
}

func TestRateRejectsOutOfRange(t *testing.T) {
	e := New(newTestStore(t))

	if _, err := e.Rate("peer-3", 0); err == nil {
		t.Error("expected error for rating below 1")
	}
	if _, err := e.Rate("peer-3", 6); err == nil {
		t.Error("expected error for rating above 5")
	}
}

func TestGetUnratedPeerReturnsZeroSnapshot(t *testing.T) {
	e := New(newTestStore(t))

	snap, err := e.Get("never-rated")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.TotalReviews != 0 {
		t.Errorf("TotalReviews = %d, want 0 for an unrated peer", snap.TotalReviews)
	}
}

func TestGetReflectsPriorRatings(t *testing.T) {
	e := New(newTestStore(t))

	if _, err := e.Rate("peer-4", 2); err != nil {
		t.Fatalf("Rate() error = %v", err)
	}
	if _, err := e.Rate("peer-4", 4); err != nil {
		t.Fatalf("Rate() error = %v", err)
	}

	snap, err := e.Get("peer-4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.TotalReviews != 2 {
		t.Errorf("TotalReviews = %d, want 2", snap.TotalReviews)
	}
	if f, _ := snap.Rating.Float64(); f != 3 {
		t.Errorf("Rating = %v, want 3", f)
	}
}
