package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ndrandal/whalewatch/internal/model"
)

type wireSportsGroup struct {
	TagIDs []string `json:"tagIds"`
}

type wireTag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug,omitempty"`
}

// LoadTaxonomy makes one call each to the sports and tags endpoints and
// returns the union of sports tag ids and the tag-id→label dictionary.
func (c *Client) LoadTaxonomy(ctx context.Context) (sportsTagIDs []string, dict map[string]model.TagLabel, err error) {
	sportsTagIDs, err = c.fetchSportsTagIDs(ctx)
	if err != nil {
		return nil, nil, err
	}

	dict, err = c.fetchTagsDictionary(ctx)
	if err != nil {
		return nil, nil, err
	}
	return sportsTagIDs, dict, nil
}

func (c *Client) fetchSportsTagIDs(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.taxonomyBaseURL+"/sports", nil)
	if err != nil {
		return nil, fmt.Errorf("build sports request: %w", err)
	}
	resp, err := c.fetchHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sports: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sports: unexpected status %d", resp.StatusCode)
	}

	var groups []wireSportsGroup
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("decode sports response: %w", err)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, g := range groups {
		for _, id := range g.TagIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Client) fetchTagsDictionary(ctx context.Context) (map[string]model.TagLabel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.taxonomyBaseURL+"/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build tags request: %w", err)
	}
	resp, err := c.fetchHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch tags: unexpected status %d", resp.StatusCode)
	}

	var tags []wireTag
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}

	dict := make(map[string]model.TagLabel, len(tags))
	for _, t := range tags {
		dict[t.ID] = model.TagLabel{Label: t.Label, Slug: t.Slug}
	}
	return dict, nil
}
