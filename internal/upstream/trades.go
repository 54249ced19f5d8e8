package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ndrandal/whalewatch/internal/model"
)

// wireTrade is the shape returned by the upstream trade feed, decoded at
// this one JSON seam before being turned into model.Trade.
type wireTrade struct {
	TransactionHash string  `json:"transactionHash"`
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	ConditionID     string  `json:"conditionId"`
	Timestamp       int64   `json:"timestamp"`
}

// FetchRecentTrades requests the most recent `limit` trades with the
// taker-only and cash-market filters applied. The upstream's time-window
// parameter is not trustworthy across runs, so this always asks for the
// most recent trades and relies on the caller's dedup set. The response is
// parsed newest-first and deduplicated by txHash within the batch; trades
// lacking a txHash are dropped silently.
func (c *Client) FetchRecentTrades(ctx context.Context, limit int, minNotional float64) ([]model.Trade, error) {
	q := url.Values{}
	q.Set("takerOnly", "true")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("filterType", "CASH")
	if minNotional > 0 {
		q.Set("filterAmount", strconv.FormatFloat(minNotional, 'f', -1, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tradeFeedBaseURL+"/trades?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build trades request: %w", err)
	}

	resp, err := c.fetchHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch recent trades: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch recent trades: unexpected status %d", resp.StatusCode)
	}

	var wire []wireTrade
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode trades response: %w", err)
	}

	seen := make(map[string]struct{}, len(wire))
	trades := make([]model.Trade, 0, len(wire))
	for _, w := range wire {
		if w.TransactionHash == "" {
			continue
		}
		if _, dup := seen[w.TransactionHash]; dup {
			continue
		}
		seen[w.TransactionHash] = struct{}{}

		trades = append(trades, model.Trade{
			TxHash:      w.TransactionHash,
			ProxyWallet: w.ProxyWallet,
			Side:        model.Side(w.Side),
			Size:        w.Size,
			Price:       w.Price,
			ConditionID: w.ConditionID,
			Timestamp:   w.Timestamp,
		})
	}
	return trades, nil
}
