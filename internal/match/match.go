// Package match implements the pure predicate that decides whether a trade
// matches a user's filter, given the trade's enriched market metadata.
package match

import (
	"github.com/ndrandal/whalewatch/internal/model"
)

// Match is the total predicate match(trade, market, filter) -> bool.
// Evaluation short-circuits in the order below; the first false wins.
// Determinism: the result depends only on the three inputs.
func Match(trade model.Trade, market model.MarketMetadata, filter model.UserFilter) bool {
	if !filter.Enabled {
		return false
	}
	if trade.Notional() < filter.MinNotionalUSD {
		return false
	}
	if trade.Price < filter.MinPrice || trade.Price > filter.MaxPrice {
		return false
	}
	if !filter.HasSide(trade.Side) {
		return false
	}
	if len(filter.MarketsFilter) > 0 && !contains(filter.MarketsFilter, trade.ConditionID) {
		return false
	}
	if len(filter.SelectedCategories) > 0 && !intersects(market.Categories, filter.SelectedCategories) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
