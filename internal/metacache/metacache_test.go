package metacache

import (
	"sort"
	"testing"
)

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func equalSets(a, b []string) bool {
	a, b = sortedCopy(a), sortedCopy(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestIsSportsMatches(t *testing.T) {
	sportsTagIDs := map[string]struct{}{"101": {}, "202": {}}
	if !isSports([]string{"55", "101"}, sportsTagIDs) {
		t.Fatal("expected tag 101 to mark market as sports")
	}
}

func TestIsSportsNoMatch(t *testing.T) {
	sportsTagIDs := map[string]struct{}{"101": {}}
	if isSports([]string{"55", "66"}, sportsTagIDs) {
		t.Fatal("expected no sports match")
	}
}

func TestIsSportsEmptyTagIDs(t *testing.T) {
	if isSports(nil, map[string]struct{}{"101": {}}) {
		t.Fatal("empty tag id list should never match")
	}
}

func TestInferCategoriesSingleKeyword(t *testing.T) {
	cats := inferCategories("NBA Finals Winner", "nba-finals-winner")
	if !equalSets(cats, []string{"Sports"}) {
		t.Fatalf("expected [Sports], got %v", cats)
	}
}

func TestInferCategoriesMultipleMatches(t *testing.T) {
	cats := inferCategories("Will Trump win the election?", "trump-2028-election")
	if !equalSets(cats, []string{"Trump", "Elections", "Politics"}) {
		t.Fatalf("expected [Trump Elections Politics], got %v", cats)
	}
}

func TestInferCategoriesCaseInsensitive(t *testing.T) {
	cats := inferCategories("BITCOIN Price Target", "BTC-100K")
	if !equalSets(cats, []string{"Crypto"}) {
		t.Fatalf("expected [Crypto], got %v", cats)
	}
}

func TestInferCategoriesNoMatch(t *testing.T) {
	cats := inferCategories("Random unrelated question", "random-q")
	if cats != nil {
		t.Fatalf("expected nil categories, got %v", cats)
	}
}

func TestInferCategoriesUsesSlugToo(t *testing.T) {
	cats := inferCategories("Upcoming game", "nfl-week-1")
	if !equalSets(cats, []string{"Sports"}) {
		t.Fatalf("expected slug keyword match [Sports], got %v", cats)
	}
}
