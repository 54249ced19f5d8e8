// Package filterset holds the in-memory snapshot of active user filters,
// refreshed on a reload signal or a periodic interval and read by the
// orchestrator without locking.
package filterset

import (
	"context"
	"log"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/ndrandal/whalewatch/internal/model"
	"github.com/ndrandal/whalewatch/internal/store"
)

// Set is an atomically-swapped snapshot of active user filters. The
// orchestrator is the only reader and writer; Reload replaces the whole
// snapshot with a single pointer swap, so no lock is required.
type Set struct {
	store          *store.Store
	reloadInterval time.Duration

	snapshot   atomic.Pointer[[]model.UserFilter]
	lastReload time.Time
}

// New creates an empty Set. Call MaybeReload before relying on Snapshot
// returning anything.
func New(s *store.Store, reloadInterval time.Duration) *Set {
	fs := &Set{store: s, reloadInterval: reloadInterval}
	empty := []model.UserFilter{}
	fs.snapshot.Store(&empty)
	return fs
}

// Snapshot returns the current filter set. Safe to call concurrently with a
// reload; the returned slice is never mutated in place.
func (fs *Set) Snapshot() []model.UserFilter {
	return *fs.snapshot.Load()
}

// MaybeReload checks the reload triggers in the order the freshness
// invariant requires: signal first, then elapsed time. Checking the signal
// before the caller fetches trades guarantees a save committed at time T
// takes effect on trades processed after T.
func (fs *Set) MaybeReload(ctx context.Context) error {
	signaled, err := fs.store.ReadReloadSignal(ctx)
	if err != nil {
		return err
	}
	if signaled {
		if err := fs.reload(ctx); err != nil {
			return err
		}
		return fs.store.ClearReloadSignal(ctx)
	}

	if time.Since(fs.lastReload) >= fs.reloadInterval {
		return fs.reload(ctx)
	}
	return nil
}

func (fs *Set) reload(ctx context.Context) error {
	filters, err := fs.store.ListActiveUserFilters(ctx)
	if err != nil {
		return err
	}

	logDiff(fs.Snapshot(), filters)

	fs.snapshot.Store(&filters)
	fs.lastReload = time.Now()
	return nil
}

// logDiff logs a value-level summary of what changed between two snapshots.
// Purely observational: it never gates the reload.
func logDiff(before, after []model.UserFilter) {
	beforeByUser := make(map[string]model.UserFilter, len(before))
	for _, f := range before {
		beforeByUser[f.UserID] = f
	}
	afterByUser := make(map[string]struct{}, len(after))

	added, changed := 0, 0
	for _, f := range after {
		afterByUser[f.UserID] = struct{}{}
		prev, existed := beforeByUser[f.UserID]
		if !existed {
			added++
			continue
		}
		if !reflect.DeepEqual(prev, f) {
			changed++
		}
	}

	removed := 0
	for userID := range beforeByUser {
		if _, ok := afterByUser[userID]; !ok {
			removed++
		}
	}

	if added == 0 && removed == 0 && changed == 0 {
		return
	}
	log.Printf("filterset: reload total=%d added=%d removed=%d changed=%d", len(after), added, removed, changed)
}
