package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestChatClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("", "", "", srv.URL, "testtoken")
}

func TestSendChatMessageDelivered(t *testing.T) {
	c := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	out, err := c.SendChatMessage(context.Background(), "C1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != Delivered {
		t.Fatalf("expected Delivered, got %v", out.Kind)
	}
}

func TestSendChatMessageRateLimited(t *testing.T) {
	c := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"parameters": map[string]int{"retry_after": 2},
		})
	})

	out, err := c.SendChatMessage(context.Background(), "C1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != RateLimited {
		t.Fatalf("expected RateLimited, got %v", out.Kind)
	}
	if out.RetryAfterSecs != 2 {
		t.Fatalf("expected retry_after 2, got %d", out.RetryAfterSecs)
	}
}

func TestSendChatMessagePermanentRejectBlocked(t *testing.T) {
	c := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	out, err := c.SendChatMessage(context.Background(), "C1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != PermanentReject || out.RejectReason != ReasonBlocked {
		t.Fatalf("expected PermanentReject(blocked), got %v/%v", out.Kind, out.RejectReason)
	}
}

func TestSendChatMessagePermanentRejectInvalidRecipient(t *testing.T) {
	c := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	out, err := c.SendChatMessage(context.Background(), "C1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != PermanentReject || out.RejectReason != ReasonInvalidRecipient {
		t.Fatalf("expected PermanentReject(invalidRecipient), got %v/%v", out.Kind, out.RejectReason)
	}
}

func TestSendChatMessageTransientError(t *testing.T) {
	c := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	out, err := c.SendChatMessage(context.Background(), "C1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != TransientError {
		t.Fatalf("expected TransientError, got %v", out.Kind)
	}
}
