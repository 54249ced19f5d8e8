// Package orchestrator runs the per-cycle ingest → enrich → match → deliver
// loop: reload filters, fetch trades, dedupe, batch-enrich, match, enqueue,
// advance the cursor, sleep.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ndrandal/whalewatch/internal/match"
	"github.com/ndrandal/whalewatch/internal/model"
)

// TradeFetcher pulls recent trades from the upstream feed, satisfied by
// *upstream.Client.
type TradeFetcher interface {
	FetchRecentTrades(ctx context.Context, limit int, minNotional float64) ([]model.Trade, error)
}

// DedupCursorStore is the subset of the Store Gateway the orchestrator
// needs for dedup bookkeeping and cursor advancement, satisfied by
// *store.Store.
type DedupCursorStore interface {
	IsSeen(ctx context.Context, txHash string) (bool, error)
	MarkSeen(ctx context.Context, txHash string, ttl time.Duration) error
	LoadCursor(ctx context.Context) (*model.Cursor, error)
	SaveCursor(ctx context.Context, timestamp int64, txHash string) error
}

// FilterSource provides the current filter snapshot and its reload
// trigger, satisfied by *filterset.Set.
type FilterSource interface {
	Snapshot() []model.UserFilter
	MaybeReload(ctx context.Context) error
}

// MetadataCache is the read-through market metadata lookup, satisfied by
// *metacache.Cache.
type MetadataCache interface {
	Get(ctx context.Context, conditionID string) (*model.MarketMetadata, bool)
	FillMissing(ctx context.Context, conditionIDs []string) map[string]model.MarketMetadata
}

// Enqueuer accepts a formatted alert for delivery, satisfied by
// *delivery.Queue.
type Enqueuer interface {
	Enqueue(chatID, text, txHash string)
}

// EventPublisher receives a lifecycle event after every cycle. Best-effort.
type EventPublisher interface {
	Publish(event any)
}

// CycleSummary is published to the EventPublisher after every poll cycle.
type CycleSummary struct {
	TradesFetched int `json:"tradesFetched"`
	TradesNew     int `json:"tradesNew"`
	Matches       int `json:"matches"`
}

// Orchestrator is the main polling loop.
type Orchestrator struct {
	store    DedupCursorStore
	upstream TradeFetcher
	filters  FilterSource
	meta     MetadataCache
	queue    Enqueuer

	pollInterval     time.Duration
	maxTradesPerPoll int
	minNotionalUSD   float64
	seenHashTTL      time.Duration

	publisher EventPublisher
}

// New creates an Orchestrator.
func New(
	s DedupCursorStore,
	u TradeFetcher,
	fs FilterSource,
	meta MetadataCache,
	queue Enqueuer,
	pollInterval time.Duration,
	maxTradesPerPoll int,
	minNotionalUSD float64,
	seenHashTTL time.Duration,
	pub EventPublisher,
) *Orchestrator {
	return &Orchestrator{
		store:            s,
		upstream:         u,
		filters:          fs,
		meta:             meta,
		queue:            queue,
		pollInterval:     pollInterval,
		maxTradesPerPoll: maxTradesPerPoll,
		minNotionalUSD:   minNotionalUSD,
		seenHashTTL:      seenHashTTL,
		publisher:        pub,
	}
}

// Run executes the poll loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		o.cycle(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.pollInterval):
		}
	}
}

func (o *Orchestrator) cycle(ctx context.Context) {
	if err := o.filters.MaybeReload(ctx); err != nil {
		log.Printf("orchestrator: filter reload: %v", err)
	}

	trades, err := o.upstream.FetchRecentTrades(ctx, o.maxTradesPerPoll, o.minNotionalUSD)
	if err != nil {
		log.Printf("orchestrator: fetch trades: %v", err)
		return
	}
	if len(trades) == 0 {
		return
	}

	newTrades, unknownIDs := o.dedupe(ctx, trades)
	if len(newTrades) == 0 {
		return
	}

	enriched := o.meta.FillMissing(ctx, unknownIDs)

	filters := o.filters.Snapshot()
	matches := 0
	var newestTimestamp int64
	var newestTxHash string

	for _, trade := range newTrades {
		if trade.Timestamp > newestTimestamp {
			newestTimestamp = trade.Timestamp
			newestTxHash = trade.TxHash
		}

		market, ok := o.lookupMarket(ctx, trade.ConditionID, enriched)
		if !ok {
			continue
		}

		for _, filter := range filters {
			if !match.Match(trade, market, filter) {
				continue
			}
			o.queue.Enqueue(filter.ChatID, formatAlert(trade, market), trade.TxHash)
			matches++
		}
	}

	o.advanceCursor(ctx, newestTimestamp, newestTxHash)

	if o.publisher != nil {
		o.publisher.Publish(CycleSummary{
			TradesFetched: len(trades),
			TradesNew:     len(newTrades),
			Matches:       matches,
		})
	}
}

// dedupe marks every not-yet-seen trade as seen before any enrichment or
// delivery is attempted, and collects the set of condition ids not already
// covered by a fresh cache hit.
func (o *Orchestrator) dedupe(ctx context.Context, trades []model.Trade) (newTrades []model.Trade, unknownIDs []string) {
	seenUnknown := make(map[string]struct{})

	for _, trade := range trades {
		seen, err := o.store.IsSeen(ctx, trade.TxHash)
		if err != nil {
			log.Printf("orchestrator: is-seen %s: %v", trade.TxHash, err)
			continue
		}
		if seen {
			continue
		}

		if err := o.store.MarkSeen(ctx, trade.TxHash, o.seenHashTTL); err != nil {
			log.Printf("orchestrator: mark-seen %s: %v", trade.TxHash, err)
			continue
		}

		newTrades = append(newTrades, trade)

		if _, ok := o.meta.Get(ctx, trade.ConditionID); !ok {
			if _, dup := seenUnknown[trade.ConditionID]; !dup {
				seenUnknown[trade.ConditionID] = struct{}{}
				unknownIDs = append(unknownIDs, trade.ConditionID)
			}
		}
	}
	return newTrades, unknownIDs
}

func (o *Orchestrator) lookupMarket(ctx context.Context, conditionID string, enriched map[string]model.MarketMetadata) (model.MarketMetadata, bool) {
	if m, ok := o.meta.Get(ctx, conditionID); ok {
		return *m, true
	}
	if m, ok := enriched[conditionID]; ok {
		return m, true
	}
	return model.MarketMetadata{}, false
}

// advanceCursor sets the cursor to the newest trade processed this cycle,
// unless that trade is older than the stored cursor (monotonicity).
func (o *Orchestrator) advanceCursor(ctx context.Context, timestamp int64, txHash string) {
	if txHash == "" {
		return
	}

	current, err := o.store.LoadCursor(ctx)
	if err != nil {
		log.Printf("orchestrator: load cursor: %v", err)
		return
	}
	if current != nil && timestamp < current.LastTimestamp {
		return
	}

	if err := o.store.SaveCursor(ctx, timestamp, txHash); err != nil {
		log.Printf("orchestrator: save cursor: %v", err)
	}
}

func formatAlert(trade model.Trade, market model.MarketMetadata) string {
	title := market.Title
	if title == "" {
		title = trade.ConditionID
	}
	return fmt.Sprintf("<b>%s</b>\n%s %.2f @ %.2f ($%.0f)", title, trade.Side, trade.Size, trade.Price, trade.Notional())
}
