// Package taxonomy is a read-through cache over the Store Gateway for the
// sports tag-id set and the tag-id→label dictionary used for categorization.
package taxonomy

import (
	"context"
	"log"
	"time"

	"github.com/ndrandal/whalewatch/internal/model"
)

// CacheStore is the subset of the Store Gateway the taxonomy loader needs,
// satisfied by *store.Store.
type CacheStore interface {
	LoadTaxonomy(ctx context.Context) (sportsTagIDs map[string]struct{}, sportsUpdatedAt time.Time, dict map[string]model.TagLabel, dictUpdatedAt time.Time, err error)
	StoreTaxonomy(ctx context.Context, sportsTagIDs []string, dict map[string]model.TagLabel) error
}

// Fetcher pulls the taxonomy from the upstream taxonomy service, satisfied
// by *upstream.Client.
type Fetcher interface {
	LoadTaxonomy(ctx context.Context) (sportsTagIDs []string, dict map[string]model.TagLabel, err error)
}

// Loader fetches and caches the taxonomy used to categorize markets. On
// cache miss or TTL expiry it calls the Upstream Client and persists the
// result; if both the cache and the fetch fail, it degrades to empty sets
// rather than blocking the caller.
type Loader struct {
	store    CacheStore
	upstream Fetcher
	ttl      time.Duration
}

// New creates a Loader with the given freshness TTL.
func New(s CacheStore, u Fetcher, ttl time.Duration) *Loader {
	return &Loader{store: s, upstream: u, ttl: ttl}
}

// Load returns the current sports tag-id set and tag-label dictionary,
// refreshing from upstream when either is missing or stale.
func (l *Loader) Load(ctx context.Context) (sportsTagIDs map[string]struct{}, dict map[string]model.TagLabel) {
	sportsTagIDs, sportsUpdatedAt, dict, dictUpdatedAt, err := l.store.LoadTaxonomy(ctx)
	if err != nil {
		log.Printf("taxonomy: load cache: %v", err)
	}

	now := time.Now()
	stale := now.Sub(sportsUpdatedAt) >= l.ttl || now.Sub(dictUpdatedAt) >= l.ttl
	if !stale && sportsTagIDs != nil && dict != nil {
		return sportsTagIDs, dict
	}

	fetchedIDs, fetchedDict, ferr := l.upstream.LoadTaxonomy(ctx)
	if ferr != nil {
		log.Printf("taxonomy: fetch: %v", ferr)
		if sportsTagIDs != nil && dict != nil {
			return sportsTagIDs, dict
		}
		log.Printf("taxonomy: no cache and fetch failed, degrading to empty taxonomy")
		return map[string]struct{}{}, map[string]model.TagLabel{}
	}

	if err := l.store.StoreTaxonomy(ctx, fetchedIDs, fetchedDict); err != nil {
		log.Printf("taxonomy: store: %v", err)
	}

	sportsSet := make(map[string]struct{}, len(fetchedIDs))
	for _, id := range fetchedIDs {
		sportsSet[id] = struct{}{}
	}
	return sportsSet, fetchedDict
}
