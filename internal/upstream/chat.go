package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// OutcomeKind is the terminal classification of a chat-send attempt.
type OutcomeKind int

const (
	Delivered OutcomeKind = iota
	RateLimited
	PermanentReject
	TransientError
)

// RejectReason explains a PermanentReject outcome.
type RejectReason string

const (
	ReasonBlocked          RejectReason = "blocked"
	ReasonInvalidRecipient RejectReason = "invalidRecipient"
)

// SendOutcome is the result of one sendChatMessage attempt.
type SendOutcome struct {
	Kind            OutcomeKind
	RetryAfterSecs  int
	RejectReason    RejectReason
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type rateLimitBody struct {
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// SendChatMessage posts one message to the chat platform and classifies the
// response per the fixed HTTP-status mapping: 2xx → Delivered; 429 →
// RateLimited(retry_after); 403 → PermanentReject(blocked); 400 →
// PermanentReject(invalidRecipient); anything else → TransientError.
func (c *Client) SendChatMessage(ctx context.Context, chatID, text string) (SendOutcome, error) {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: false,
	})
	if err != nil {
		return SendOutcome{}, fmt.Errorf("marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.chatBaseURL, c.chatBotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendOutcome{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.chatHTTP.Do(req)
	if err != nil {
		return SendOutcome{Kind: TransientError}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return SendOutcome{Kind: Delivered}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		var rl rateLimitBody
		_ = json.NewDecoder(resp.Body).Decode(&rl)
		return SendOutcome{Kind: RateLimited, RetryAfterSecs: rl.Parameters.RetryAfter}, nil

	case resp.StatusCode == http.StatusForbidden:
		return SendOutcome{Kind: PermanentReject, RejectReason: ReasonBlocked}, nil

	case resp.StatusCode == http.StatusBadRequest:
		return SendOutcome{Kind: PermanentReject, RejectReason: ReasonInvalidRecipient}, nil

	default:
		return SendOutcome{Kind: TransientError}, nil
	}
}
