// Package metacache is the read-through cache for market metadata, keyed by
// condition id and refreshed on TTL expiry. Categorization (sports flag,
// category labels) is computed here on every fill, backed by a persisted
// tag→category map with a fixed keyword-table fallback.
package metacache

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/ndrandal/whalewatch/internal/model"
	"github.com/ndrandal/whalewatch/internal/store"
	"github.com/ndrandal/whalewatch/internal/taxonomy"
	"github.com/ndrandal/whalewatch/internal/upstream"
)

// Cache is the read-through market-metadata cache.
type Cache struct {
	store    *store.Store
	upstream *upstream.Client
	taxonomy *taxonomy.Loader
	ttl      time.Duration
}

// New creates a Cache with the given freshness TTL.
func New(s *store.Store, u *upstream.Client, tax *taxonomy.Loader, ttl time.Duration) *Cache {
	return &Cache{store: s, upstream: u, taxonomy: tax, ttl: ttl}
}

// Get returns the cached metadata for conditionID if present and fresh.
func (c *Cache) Get(ctx context.Context, conditionID string) (*model.MarketMetadata, bool) {
	m, err := c.store.GetMarket(ctx, conditionID)
	if err != nil {
		log.Printf("metacache: get %s: %v", conditionID, err)
		return nil, false
	}
	if m == nil || !m.Fresh(c.ttl, time.Now()) {
		return nil, false
	}
	return m, true
}

// FillMissing fetches metadata for the given condition ids from upstream,
// categorizes and persists every result, and returns what was resolved.
// Ids the upstream could not resolve are simply absent from the result.
func (c *Cache) FillMissing(ctx context.Context, conditionIDs []string) map[string]model.MarketMetadata {
	if len(conditionIDs) == 0 {
		return nil
	}

	fetched := c.upstream.FetchMarketsBatch(ctx, conditionIDs)
	sportsTagIDs, dict := c.taxonomy.Load(ctx)

	result := make(map[string]model.MarketMetadata, len(fetched))
	for id, m := range fetched {
		m.IsSports = isSports(m.TagIDs, sportsTagIDs)
		m.Categories = c.categorize(ctx, m.TagIDs, dict)

		if err := c.store.PutMarket(ctx, m); err != nil {
			log.Printf("metacache: put market %s: %v", id, err)
		}
		result[id] = m
	}
	return result
}

func isSports(tagIDs []string, sportsTagIDs map[string]struct{}) bool {
	for _, id := range tagIDs {
		if _, ok := sportsTagIDs[id]; ok {
			return true
		}
	}
	return false
}

// categorize returns the union of categoriesOf(tagId) over all of a
// market's tag ids, consulting the persisted tag→category map first and
// falling back to keyword inference on a per-tag miss.
func (c *Cache) categorize(ctx context.Context, tagIDs []string, dict map[string]model.TagLabel) []string {
	seen := make(map[string]struct{})
	var categories []string

	for _, tagID := range tagIDs {
		cats, err := c.store.CategoryForTag(ctx, tagID)
		if err != nil {
			log.Printf("metacache: category for tag %s: %v", tagID, err)
		}
		if cats == nil {
			label := dict[tagID]
			cats = inferCategories(label.Label, label.Slug)
			if err := c.store.PersistTagCategory(ctx, tagID, cats); err != nil {
				log.Printf("metacache: persist tag category %s: %v", tagID, err)
			}
		}
		for _, cat := range cats {
			if _, dup := seen[cat]; dup {
				continue
			}
			seen[cat] = struct{}{}
			categories = append(categories, cat)
		}
	}
	return categories
}

// categoryKeywords is the fixed keyword inference table consulted on a
// tag→category cache miss. A tag may infer more than one category.
var categoryKeywords = map[string][]string{
	"Politics":     {"politics", "political", "election", "senate", "congress", "president"},
	"Sports":       {"sport", "nfl", "nba", "mlb", "nhl", "soccer", "football", "basketball"},
	"Crypto":       {"crypto", "bitcoin", "ethereum", "btc", "eth", "token", "defi"},
	"Finance":      {"finance", "stock", "market", "fed", "rate", "inflation"},
	"Geopolitics":  {"geopolitic", "war", "conflict", "sanction", "treaty"},
	"Earnings":     {"earnings", "revenue", "quarterly"},
	"Tech":         {"tech", "ai", "software", "chip", "startup"},
	"Culture":      {"culture", "movie", "music", "award", "celebrity"},
	"World":        {"world", "global", "international"},
	"Economy":      {"economy", "economic", "gdp", "jobs", "unemployment"},
	"Trump":        {"trump"},
	"Elections":    {"election", "vote", "ballot", "primary"},
	"Mentions":     {"mention", "tweet", "said"},
}

// inferCategories classifies a tag by matching its label and slug against a
// fixed keyword table. Returns nil (no categories, still a valid result) if
// nothing matches.
func inferCategories(label, slug string) []string {
	haystack := strings.ToLower(label + " " + slug)
	var categories []string
	for category, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(haystack, kw) {
				categories = append(categories, category)
				break
			}
		}
	}
	return categories
}
