package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchRecentTradesDropsMissingHashAndDedupes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"transactionHash": "t1", "side": "BUY", "size": 10.0, "price": 0.5, "conditionId": "m1", "timestamp": 1000},
			{"transactionHash": "", "side": "SELL", "size": 5.0, "price": 0.3, "conditionId": "m2", "timestamp": 999},
			{"transactionHash": "t1", "side": "BUY", "size": 10.0, "price": 0.5, "conditionId": "m1", "timestamp": 1000},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", "", "")
	trades, err := c.FetchRecentTrades(context.Background(), 2000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade after dedup+drop, got %d", len(trades))
	}
	if trades[0].TxHash != "t1" {
		t.Fatalf("expected t1, got %s", trades[0].TxHash)
	}
}

func TestFetchRecentTradesQueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", "", "")
	_, err := c.FetchRecentTrades(context.Background(), 500, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := gotQuery
	if !strings.Contains(q, "takerOnly=true") || !strings.Contains(q, "limit=500") || !strings.Contains(q, "filterType=CASH") || !strings.Contains(q, "filterAmount=100") {
		t.Fatalf("unexpected query: %s", q)
	}
}
