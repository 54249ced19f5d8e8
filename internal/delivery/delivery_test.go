package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ndrandal/whalewatch/internal/model"
	"github.com/ndrandal/whalewatch/internal/upstream"
)

type fakeSender struct {
	mu        sync.Mutex
	sendTimes map[string][]time.Time
	outcomes  map[string][]upstream.SendOutcome // per-chat queue of outcomes, last repeats
	errs      map[string][]error                // per-chat queue of errors, takes precedence over outcomes
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		sendTimes: make(map[string][]time.Time),
		outcomes:  make(map[string][]upstream.SendOutcome),
		errs:      make(map[string][]error),
	}
}

func (f *fakeSender) SendChatMessage(ctx context.Context, chatID, text string) (upstream.SendOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendTimes[chatID] = append(f.sendTimes[chatID], time.Now())

	if eq := f.errs[chatID]; len(eq) > 0 {
		err := eq[0]
		if len(eq) > 1 {
			f.errs[chatID] = eq[1:]
		} else {
			delete(f.errs, chatID)
		}
		return upstream.SendOutcome{}, err
	}

	q := f.outcomes[chatID]
	if len(q) == 0 {
		return upstream.SendOutcome{Kind: upstream.Delivered}, nil
	}
	out := q[0]
	if len(q) > 1 {
		f.outcomes[chatID] = q[1:]
	}
	return out, nil
}

type fakeAuditStore struct {
	mu          sync.Mutex
	deactivated []string
	entries     []model.AlertLogEntry
}

func (f *fakeAuditStore) DeactivateChat(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, chatID)
	return nil
}

func (f *fakeAuditStore) AppendAlertLogEntry(ctx context.Context, e model.AlertLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func TestQueueDeliveredDropsItem(t *testing.T) {
	sender := newFakeSender()
	audit := &fakeAuditStore{}
	q := New(audit, sender, nil, 10)

	q.Enqueue("C1", "hello", "t1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go q.Run(ctx, time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if q.Depth() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if q.Depth() != 0 {
		t.Fatal("expected item to be drained")
	}
	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.entries) != 1 || audit.entries[0].Outcome != model.AlertDelivered {
		t.Fatalf("expected one delivered alert-log entry, got %+v", audit.entries)
	}
}

func TestQueuePermanentRejectDeactivates(t *testing.T) {
	sender := newFakeSender()
	sender.outcomes["C1"] = []upstream.SendOutcome{{Kind: upstream.PermanentReject, RejectReason: upstream.ReasonBlocked}}
	audit := &fakeAuditStore{}
	q := New(audit, sender, nil, 10)

	q.Enqueue("C1", "hello", "t1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go q.Run(ctx, time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if q.Depth() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.deactivated) != 1 || audit.deactivated[0] != "C1" {
		t.Fatalf("expected exactly one deactivation of C1, got %v", audit.deactivated)
	}
}

func TestQueuePerChatPacingAtLeastOneSecond(t *testing.T) {
	sender := newFakeSender()
	audit := &fakeAuditStore{}
	q := New(audit, sender, nil, 10)

	q.Enqueue("C1", "one", "t1")
	q.Enqueue("C1", "two", "t2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go q.Run(ctx, time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sender.mu.Lock()
		n := len(sender.sendTimes["C1"])
		sender.mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sender.mu.Lock()
	times := sender.sendTimes["C1"]
	sender.mu.Unlock()
	if len(times) < 2 {
		t.Fatalf("expected 2 sends, got %d", len(times))
	}
	if gap := times[1].Sub(times[0]); gap < 990*time.Millisecond {
		t.Fatalf("expected per-chat pacing >= ~1s, got %v", gap)
	}
}

func TestQueueRateLimitedHonorsRetryAfter(t *testing.T) {
	sender := newFakeSender()
	sender.outcomes["C1"] = []upstream.SendOutcome{{Kind: upstream.RateLimited, RetryAfterSecs: 2}, {Kind: upstream.Delivered}}
	audit := &fakeAuditStore{}
	q := New(audit, sender, nil, 10)

	q.Enqueue("C1", "hello", "t1")

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	go q.Run(ctx, time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sender.mu.Lock()
		n := len(sender.sendTimes["C1"])
		sender.mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sender.mu.Lock()
	times := sender.sendTimes["C1"]
	sender.mu.Unlock()
	if len(times) < 2 {
		t.Fatalf("expected the rate-limited item to be retried, got %d sends", len(times))
	}
	if gap := times[1].Sub(times[0]); gap < 2*time.Second {
		t.Fatalf("expected retry to land at least retry_after (2s) later, got %v", gap)
	}

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.entries) != 1 || audit.entries[0].Outcome != model.AlertDelivered {
		t.Fatalf("expected the retried send to eventually land as delivered, got %+v", audit.entries)
	}
}

func TestQueueSendErrorTreatedAsTransientNotDelivered(t *testing.T) {
	sender := newFakeSender()
	sender.errs["C1"] = []error{errors.New("build send request: boom")}
	audit := &fakeAuditStore{}
	q := New(audit, sender, nil, 10)

	q.Enqueue("C1", "hello", "t1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go q.Run(ctx, time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sender.mu.Lock()
		n := len(sender.sendTimes["C1"])
		sender.mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Give the worker a moment to process the send before we inspect state:
	// a send error must never be recorded as AlertDelivered, and the item
	// must still be queued for retry rather than dropped.
	time.Sleep(50 * time.Millisecond)

	audit.mu.Lock()
	for _, e := range audit.entries {
		if e.Outcome == model.AlertDelivered {
			audit.mu.Unlock()
			t.Fatalf("send error must never be recorded as delivered, got %+v", audit.entries)
		}
	}
	audit.mu.Unlock()

	if q.Depth() != 1 {
		t.Fatalf("expected the errored item to remain queued for retry, depth=%d", q.Depth())
	}
}
