package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ndrandal/whalewatch/internal/model"
)

// --- fakes ---

type fakeTradeFetcher struct {
	mu      sync.Mutex
	batches [][]model.Trade
	calls   int
}

func (f *fakeTradeFetcher) FetchRecentTrades(_ context.Context, _ int, _ float64) ([]model.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.batches) {
		return nil, nil
	}
	b := f.batches[f.calls]
	f.calls++
	return b, nil
}

type fakeDedupCursorStore struct {
	mu     sync.Mutex
	seen   map[string]bool
	cursor *model.Cursor
}

func newFakeDedupCursorStore() *fakeDedupCursorStore {
	return &fakeDedupCursorStore{seen: make(map[string]bool)}
}

func (f *fakeDedupCursorStore) IsSeen(_ context.Context, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[txHash], nil
}

func (f *fakeDedupCursorStore) MarkSeen(_ context.Context, txHash string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[txHash] = true
	return nil
}

func (f *fakeDedupCursorStore) LoadCursor(_ context.Context) (*model.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeDedupCursorStore) SaveCursor(_ context.Context, timestamp int64, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = &model.Cursor{LastTimestamp: timestamp, LastTxHash: txHash}
	return nil
}

// fakeFilterSource simulates a hot reload by swapping in nextFilters the
// first time MaybeReload is called while nextFilters is set; this models the
// orchestrator observing a reload signal mid-run without pulling in the
// real filterset package's store dependency.
type fakeFilterSource struct {
	mu          sync.Mutex
	filters     []model.UserFilter
	nextFilters []model.UserFilter
	reloadCalls int
}

func (f *fakeFilterSource) Snapshot() []model.UserFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filters
}

func (f *fakeFilterSource) MaybeReload(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloadCalls++
	if f.nextFilters != nil {
		f.filters = f.nextFilters
		f.nextFilters = nil
	}
	return nil
}

type fakeMetaCache struct {
	cached   map[string]model.MarketMetadata
	fixtures map[string]model.MarketMetadata
}

func newFakeMetaCache(fixtures map[string]model.MarketMetadata) *fakeMetaCache {
	return &fakeMetaCache{cached: make(map[string]model.MarketMetadata), fixtures: fixtures}
}

func (f *fakeMetaCache) Get(_ context.Context, conditionID string) (*model.MarketMetadata, bool) {
	if m, ok := f.cached[conditionID]; ok {
		return &m, true
	}
	return nil, false
}

func (f *fakeMetaCache) FillMissing(_ context.Context, conditionIDs []string) map[string]model.MarketMetadata {
	result := make(map[string]model.MarketMetadata, len(conditionIDs))
	for _, id := range conditionIDs {
		if m, ok := f.fixtures[id]; ok {
			result[id] = m
		}
	}
	return result
}

type enqueued struct {
	chatID, text, txHash string
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	items []enqueued
}

func (f *fakeEnqueuer) Enqueue(chatID, text, txHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, enqueued{chatID, text, txHash})
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// --- scenario helpers ---

func baseFilter() model.UserFilter {
	return model.UserFilter{
		UserID:         "u1",
		ChatID:         "C1",
		Enabled:        true,
		MinNotionalUSD: 100,
		MinPrice:       0.05,
		MaxPrice:       0.95,
		Sides:          []model.Side{model.Buy, model.Sell},
	}
}

var cryptoMarket = model.MarketMetadata{
	ConditionID: "m1",
	Categories:  []string{"Crypto"},
	IsSports:    false,
}

// --- S1: happy path ---

func TestCycleHappyPathEnqueuesAndAdvancesCursor(t *testing.T) {
	fetcher := &fakeTradeFetcher{batches: [][]model.Trade{
		{{TxHash: "t1", Side: model.Buy, Size: 200, Price: 0.50, ConditionID: "m1", Timestamp: 1000}},
	}}
	dedup := newFakeDedupCursorStore()
	filters := &fakeFilterSource{filters: []model.UserFilter{baseFilter()}}
	meta := newFakeMetaCache(map[string]model.MarketMetadata{"m1": cryptoMarket})
	enq := &fakeEnqueuer{}

	o := New(dedup, fetcher, filters, meta, enq, time.Second, 100, 0, 15*time.Minute, nil)
	o.cycle(context.Background())

	if n := enq.count(); n != 1 {
		t.Fatalf("expected exactly one enqueue, got %d", n)
	}
	if enq.items[0].chatID != "C1" {
		t.Errorf("expected enqueue to C1, got %s", enq.items[0].chatID)
	}

	if dedup.cursor == nil || dedup.cursor.LastTimestamp != 1000 || dedup.cursor.LastTxHash != "t1" {
		t.Fatalf("expected cursor {1000,t1}, got %+v", dedup.cursor)
	}
	seen, _ := dedup.IsSeen(context.Background(), "t1")
	if !seen {
		t.Fatal("expected t1 to be marked seen")
	}
}

// --- S2: filter excludes ---

func TestCycleFilterExcludesButCursorAdvances(t *testing.T) {
	fetcher := &fakeTradeFetcher{batches: [][]model.Trade{
		{{TxHash: "t1", Side: model.Buy, Size: 200, Price: 0.50, ConditionID: "m1", Timestamp: 1000}},
	}}
	dedup := newFakeDedupCursorStore()
	f := baseFilter()
	f.SelectedCategories = []string{"Politics"}
	filters := &fakeFilterSource{filters: []model.UserFilter{f}}
	meta := newFakeMetaCache(map[string]model.MarketMetadata{"m1": cryptoMarket})
	enq := &fakeEnqueuer{}

	o := New(dedup, fetcher, filters, meta, enq, time.Second, 100, 0, 15*time.Minute, nil)
	o.cycle(context.Background())

	if n := enq.count(); n != 0 {
		t.Fatalf("expected zero enqueues, got %d", n)
	}
	if dedup.cursor == nil || dedup.cursor.LastTimestamp != 1000 {
		t.Fatalf("expected cursor to still advance to 1000, got %+v", dedup.cursor)
	}
}

// --- S3: duplicate suppression ---

func TestCycleDuplicateSuppression(t *testing.T) {
	trade := model.Trade{TxHash: "t1", Side: model.Buy, Size: 200, Price: 0.50, ConditionID: "m1", Timestamp: 1000}
	fetcher := &fakeTradeFetcher{batches: [][]model.Trade{{trade}, {trade}}}
	dedup := newFakeDedupCursorStore()
	filters := &fakeFilterSource{filters: []model.UserFilter{baseFilter()}}
	meta := newFakeMetaCache(map[string]model.MarketMetadata{"m1": cryptoMarket})
	enq := &fakeEnqueuer{}

	o := New(dedup, fetcher, filters, meta, enq, time.Second, 100, 0, 15*time.Minute, nil)
	o.cycle(context.Background())
	if n := enq.count(); n != 1 {
		t.Fatalf("expected one enqueue after first cycle, got %d", n)
	}
	cursorAfterFirst := *dedup.cursor

	o.cycle(context.Background())
	if n := enq.count(); n != 1 {
		t.Fatalf("expected no additional enqueues on duplicate, got %d", n)
	}
	if *dedup.cursor != cursorAfterFirst {
		t.Fatalf("expected cursor unchanged after duplicate-only cycle, got %+v want %+v", dedup.cursor, cursorAfterFirst)
	}
}

// --- S4: hot reload ---

func TestCycleHotReloadAppliesBeforeMatching(t *testing.T) {
	t2 := model.Trade{TxHash: "t2", Side: model.Buy, Size: 400, Price: 0.50, ConditionID: "m1", Timestamp: 2000}
	t3 := model.Trade{TxHash: "t3", Side: model.Buy, Size: 800, Price: 0.50, ConditionID: "m1", Timestamp: 3000}
	fetcher := &fakeTradeFetcher{batches: [][]model.Trade{{t2, t3}}}
	dedup := newFakeDedupCursorStore()

	updated := baseFilter()
	updated.MinNotionalUSD = 300
	filters := &fakeFilterSource{
		filters:     []model.UserFilter{baseFilter()},
		nextFilters: []model.UserFilter{updated},
	}
	meta := newFakeMetaCache(map[string]model.MarketMetadata{"m1": cryptoMarket})
	enq := &fakeEnqueuer{}

	o := New(dedup, fetcher, filters, meta, enq, time.Second, 100, 0, 15*time.Minute, nil)
	o.cycle(context.Background())

	if n := enq.count(); n != 1 {
		t.Fatalf("expected exactly one enqueue (t3 only), got %d: %+v", n, enq.items)
	}
	if enq.items[0].txHash != "t3" {
		t.Fatalf("expected t3 to match post-reload threshold, got %s", enq.items[0].txHash)
	}
	if filters.reloadCalls != 1 {
		t.Fatalf("expected MaybeReload to be called once, got %d", filters.reloadCalls)
	}
}
