package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/whalewatch/internal/model"
)

// userFilterDoc is the persisted shape of userFilterConfigs, joined at read
// time with the matching chatAccounts document to build a model.UserFilter.
type userFilterDoc struct {
	UserID             string      `bson:"user_id"`
	Enabled            bool        `bson:"enabled"`
	MinNotionalUSD     float64     `bson:"min_notional_usd"`
	MinPrice           float64     `bson:"min_price"`
	MaxPrice           float64     `bson:"max_price"`
	Sides              []model.Side `bson:"sides"`
	SelectedCategories []string    `bson:"selected_categories"`
	MarketsFilter      []string    `bson:"markets_filter"`
}

// ListActiveUserFilters returns all filters whose config is enabled=true and
// whose chat account is active, joined into UserFilter snapshots. Filters
// that fail their own invariants (empty sides, minPrice > maxPrice) are
// silently excluded rather than admitted into the snapshot.
func (s *Store) ListActiveUserFilters(ctx context.Context) ([]model.UserFilter, error) {
	cursor, err := s.db.Collection(collUserFilterConfigs).Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, fmt.Errorf("list user filter configs: %w", err)
	}
	defer cursor.Close(ctx)

	var configs []userFilterDoc
	if err := cursor.All(ctx, &configs); err != nil {
		return nil, fmt.Errorf("decode user filter configs: %w", err)
	}
	if len(configs) == 0 {
		return nil, nil
	}

	userIDs := make([]string, len(configs))
	for i, c := range configs {
		userIDs[i] = c.UserID
	}

	acctCursor, err := s.db.Collection(collChatAccounts).Find(ctx, bson.M{
		"user_id":   bson.M{"$in": userIDs},
		"is_active": true,
	})
	if err != nil {
		return nil, fmt.Errorf("list chat accounts: %w", err)
	}
	defer acctCursor.Close(ctx)

	var accounts []model.ChatAccount
	if err := acctCursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("decode chat accounts: %w", err)
	}

	activeChatByUser := make(map[string]string, len(accounts))
	for _, a := range accounts {
		activeChatByUser[a.UserID] = a.ChatID
	}

	filters := make([]model.UserFilter, 0, len(configs))
	for _, c := range configs {
		chatID, ok := activeChatByUser[c.UserID]
		if !ok {
			continue
		}
		f := model.UserFilter{
			UserID:             c.UserID,
			ChatID:             chatID,
			Enabled:            c.Enabled,
			MinNotionalUSD:     c.MinNotionalUSD,
			MinPrice:           c.MinPrice,
			MaxPrice:           c.MaxPrice,
			Sides:              c.Sides,
			SelectedCategories: c.SelectedCategories,
			MarketsFilter:      c.MarketsFilter,
		}
		if !f.Valid() {
			continue
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// LoadCursor returns the singleton cursor, or nil if none has been saved yet.
func (s *Store) LoadCursor(ctx context.Context) (*model.Cursor, error) {
	var c model.Cursor
	err := s.db.Collection(collCursor).FindOne(ctx, bson.M{"_id": model.CursorID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	return &c, nil
}

// SaveCursor upserts the singleton cursor.
func (s *Store) SaveCursor(ctx context.Context, timestamp int64, txHash string) error {
	_, err := s.db.Collection(collCursor).UpdateOne(ctx,
		bson.M{"_id": model.CursorID},
		bson.M{"$set": bson.M{
			"_id":            model.CursorID,
			"last_timestamp": timestamp,
			"last_tx_hash":   txHash,
			"updated_at":     time.Now(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// IsSeen reports whether txHash has already been marked seen.
func (s *Store) IsSeen(ctx context.Context, txHash string) (bool, error) {
	err := s.db.Collection(collProcessedTrades).FindOne(ctx, bson.M{"tx_hash": txHash}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return true, nil
}

// MarkSeen records txHash as processed with the given TTL. Idempotent aside
// from refreshing the expiry: marking an already-marked hash upserts the same
// document. A concurrent upsert of the same hash can fail on the unique
// tx_hash index; that duplicate-key error is returned like any other error.
func (s *Store) MarkSeen(ctx context.Context, txHash string, ttl time.Duration) error {
	_, err := s.db.Collection(collProcessedTrades).UpdateOne(ctx,
		bson.M{"tx_hash": txHash},
		bson.M{"$set": bson.M{
			"tx_hash":    txHash,
			"expires_at": time.Now().Add(ttl),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// GetMarket returns the cached metadata for a condition id, or nil on miss.
// Freshness (TTL) is the caller's concern; this returns whatever is stored.
func (s *Store) GetMarket(ctx context.Context, conditionID string) (*model.MarketMetadata, error) {
	var m model.MarketMetadata
	err := s.db.Collection(collMarketMetadata).FindOne(ctx, bson.M{"condition_id": conditionID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", conditionID, err)
	}
	return &m, nil
}

// PutMarket upserts the metadata cache entry, stamping UpdatedAt to now.
func (s *Store) PutMarket(ctx context.Context, m model.MarketMetadata) error {
	m.UpdatedAt = time.Now()
	_, err := s.db.Collection(collMarketMetadata).UpdateOne(ctx,
		bson.M{"condition_id": m.ConditionID},
		bson.M{"$set": m},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("put market %s: %w", m.ConditionID, err)
	}
	return nil
}

// ReadReloadSignal reports whether the filter-set reload latch is present.
func (s *Store) ReadReloadSignal(ctx context.Context) (bool, error) {
	err := s.db.Collection(collReloadSignal).FindOne(ctx, bson.M{"_id": model.ReloadSignalID}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read reload signal: %w", err)
	}
	return true, nil
}

// ClearReloadSignal deletes the reload latch. Idempotent.
func (s *Store) ClearReloadSignal(ctx context.Context) error {
	_, err := s.db.Collection(collReloadSignal).DeleteOne(ctx, bson.M{"_id": model.ReloadSignalID})
	if err != nil {
		return fmt.Errorf("clear reload signal: %w", err)
	}
	return nil
}

type taxonomyTagsDoc struct {
	ID        string                `bson:"_id"`
	Dict      map[string]model.TagLabel `bson:"dict"`
	UpdatedAt time.Time             `bson:"updated_at"`
}

type taxonomySportsDoc struct {
	ID        string    `bson:"_id"`
	TagIDs    []string  `bson:"tag_ids"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// LoadTaxonomy returns the cached sports-tag-id set and tag dictionary, and
// how long ago each was refreshed. A zero time.Time means no cache exists.
func (s *Store) LoadTaxonomy(ctx context.Context) (sportsTagIDs map[string]struct{}, sportsUpdatedAt time.Time, dict map[string]model.TagLabel, dictUpdatedAt time.Time, err error) {
	var sportsDoc taxonomySportsDoc
	serr := s.db.Collection(collSportsTagIDs).FindOne(ctx, bson.M{"_id": "global"}).Decode(&sportsDoc)
	if serr != nil && serr != mongo.ErrNoDocuments {
		return nil, time.Time{}, nil, time.Time{}, fmt.Errorf("load sports tag ids: %w", serr)
	}
	if serr == nil {
		sportsTagIDs = make(map[string]struct{}, len(sportsDoc.TagIDs))
		for _, id := range sportsDoc.TagIDs {
			sportsTagIDs[id] = struct{}{}
		}
		sportsUpdatedAt = sportsDoc.UpdatedAt
	}

	var tagsDoc taxonomyTagsDoc
	terr := s.db.Collection(collTagsDictionary).FindOne(ctx, bson.M{"_id": "global"}).Decode(&tagsDoc)
	if terr != nil && terr != mongo.ErrNoDocuments {
		return nil, time.Time{}, nil, time.Time{}, fmt.Errorf("load tags dictionary: %w", terr)
	}
	if terr == nil {
		dict = tagsDoc.Dict
		dictUpdatedAt = tagsDoc.UpdatedAt
	}
	return sportsTagIDs, sportsUpdatedAt, dict, dictUpdatedAt, nil
}

// StoreTaxonomy persists the sports-tag-id set and tag dictionary.
func (s *Store) StoreTaxonomy(ctx context.Context, sportsTagIDs []string, dict map[string]model.TagLabel) error {
	now := time.Now()
	_, err := s.db.Collection(collSportsTagIDs).UpdateOne(ctx,
		bson.M{"_id": "global"},
		bson.M{"$set": bson.M{"_id": "global", "tag_ids": sportsTagIDs, "updated_at": now}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store sports tag ids: %w", err)
	}

	_, err = s.db.Collection(collTagsDictionary).UpdateOne(ctx,
		bson.M{"_id": "global"},
		bson.M{"$set": bson.M{"_id": "global", "dict": dict, "updated_at": now}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store tags dictionary: %w", err)
	}
	return nil
}

// CategoryForTag returns the persisted category inference for a tag id, or
// nil on miss.
func (s *Store) CategoryForTag(ctx context.Context, tagID string) ([]string, error) {
	var doc model.TagCategoryMap
	err := s.db.Collection(collTagCategoryMap).FindOne(ctx, bson.M{"_id": tagID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tag category %s: %w", tagID, err)
	}
	return doc.Categories, nil
}

// PersistTagCategory saves an inferred category list for reuse.
func (s *Store) PersistTagCategory(ctx context.Context, tagID string, categories []string) error {
	_, err := s.db.Collection(collTagCategoryMap).UpdateOne(ctx,
		bson.M{"_id": tagID},
		bson.M{"$set": bson.M{"_id": tagID, "categories": categories, "updated_at": time.Now()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("persist tag category %s: %w", tagID, err)
	}
	return nil
}

// DeactivateChat marks the chat account for chatID inactive. Idempotent.
func (s *Store) DeactivateChat(ctx context.Context, chatID string) error {
	_, err := s.db.Collection(collChatAccounts).UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		bson.M{"$set": bson.M{"is_active": false}},
	)
	if err != nil {
		return fmt.Errorf("deactivate chat %s: %w", chatID, err)
	}
	return nil
}

// AppendAlertLogEntry writes one ambient audit record. Failures here are
// logged by the caller and never affect delivery-queue state.
func (s *Store) AppendAlertLogEntry(ctx context.Context, e model.AlertLogEntry) error {
	if e.AttemptedAt.IsZero() {
		e.AttemptedAt = time.Now()
	}
	_, err := s.db.Collection(collAlertLog).InsertOne(ctx, e)
	if err != nil {
		return fmt.Errorf("append alert log entry: %w", err)
	}
	return nil
}
