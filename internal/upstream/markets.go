package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ndrandal/whalewatch/internal/model"
)

// FetchMarketsBatch resolves market metadata for a set of condition ids.
// Policy: attempt one batched call first; for every id still missing after
// that, issue a concurrent per-id request bounded to maxFanout at a time,
// trying the open-markets-only constraint before falling back to include
// archived markets. Ids that remain unresolved are simply absent from the
// returned map — callers treat missing ids as "market unknown".
func (c *Client) FetchMarketsBatch(ctx context.Context, conditionIDs []string) map[string]model.MarketMetadata {
	result := make(map[string]model.MarketMetadata, len(conditionIDs))

	batched, err := c.fetchMarketsOnce(ctx, strings.Join(conditionIDs, ","), true)
	if err == nil {
		for _, m := range batched {
			result[m.ConditionID] = m
		}
	}

	var missing []string
	for _, id := range conditionIDs {
		if _, ok := result[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return result
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxFanout)

	for _, id := range missing {
		wg.Add(1)
		sem <- struct{}{}
		go func(conditionID string) {
			defer wg.Done()
			defer func() { <-sem }()

			m, ok := c.fetchMarketByID(ctx, conditionID)
			if !ok {
				return
			}
			mu.Lock()
			result[conditionID] = m
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return result
}

// fetchMarketByID tries the open-markets-only constraint first, then
// retries without it to cover archived markets.
func (c *Client) fetchMarketByID(ctx context.Context, conditionID string) (model.MarketMetadata, bool) {
	markets, err := c.fetchMarketsOnce(ctx, conditionID, true)
	if err == nil && len(markets) > 0 {
		return markets[0], true
	}

	markets, err = c.fetchMarketsOnce(ctx, conditionID, false)
	if err != nil || len(markets) == 0 {
		return model.MarketMetadata{}, false
	}
	return markets[0], true
}

func (c *Client) fetchMarketsOnce(ctx context.Context, conditionIDsCSV string, onlyOpen bool) ([]model.MarketMetadata, error) {
	q := url.Values{}
	q.Set("condition_ids", conditionIDsCSV)
	q.Set("include_tag", "true")
	if onlyOpen {
		q.Set("closed", "false")
	}
	q.Set("limit", strconv.Itoa(maxFanout*2))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.marketBaseURL+"/markets?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build markets request: %w", err)
	}

	resp, err := c.fetchHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch markets: unexpected status %d", resp.StatusCode)
	}

	var raw []model.RawMarket
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode markets response: %w", err)
	}

	out := make([]model.MarketMetadata, 0, len(raw))
	for _, r := range raw {
		tagLabels := make([]string, 0, len(r.Tags))
		tagIDs := make([]string, 0, len(r.Tags))
		for _, t := range r.Tags {
			tagLabels = append(tagLabels, t.Label)
			tagIDs = append(tagIDs, t.ID)
		}
		out = append(out, model.MarketMetadata{
			ConditionID: r.ConditionID,
			Title:       r.Question,
			Slug:        r.Slug,
			Tags:        tagLabels,
			TagIDs:      tagIDs,
		})
	}
	return out, nil
}
