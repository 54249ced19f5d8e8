// Package upstream is the HTTP client for the trade feed, market-metadata
// service, taxonomy service, and chat platform. Every call carries an
// explicit timeout; the client never caches (that is the Metadata Cache's
// and Taxonomy Loader's job).
package upstream

import (
	"net/http"
	"time"
)

const (
	fetchTimeout = 30 * time.Second
	chatTimeout  = 10 * time.Second

	// maxFanout bounds concurrent per-market HTTP requests during
	// fetchMarketsBatch's fallback path.
	maxFanout = 32
)

// Client talks to the trade feed, market service, taxonomy service, and
// chat platform over HTTP/JSON.
type Client struct {
	tradeFeedBaseURL string
	marketBaseURL    string
	taxonomyBaseURL  string
	chatBaseURL      string
	chatBotToken     string

	fetchHTTP *http.Client
	chatHTTP  *http.Client
}

// New creates a Client for the given upstream base URLs.
func New(tradeFeedBaseURL, marketBaseURL, taxonomyBaseURL, chatBaseURL, chatBotToken string) *Client {
	return &Client{
		tradeFeedBaseURL: tradeFeedBaseURL,
		marketBaseURL:    marketBaseURL,
		taxonomyBaseURL:  taxonomyBaseURL,
		chatBaseURL:      chatBaseURL,
		chatBotToken:     chatBotToken,
		fetchHTTP:        &http.Client{Timeout: fetchTimeout},
		chatHTTP:         &http.Client{Timeout: chatTimeout},
	}
}
