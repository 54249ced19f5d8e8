// Package delivery is the bounded, rate-limited outbound notification
// queue: a single worker drains it, enforcing global and per-chat pacing,
// bounded retry with backoff, and account deactivation on permanent reject.
package delivery

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"

	"github.com/ndrandal/whalewatch/internal/model"
	"github.com/ndrandal/whalewatch/internal/upstream"
)

// ChatSender abstracts the chat-platform send call, satisfied by
// *upstream.Client. Defined here so the worker can be tested against a fake.
type ChatSender interface {
	SendChatMessage(ctx context.Context, chatID, text string) (upstream.SendOutcome, error)
}

// AuditStore abstracts the store operations the delivery worker needs,
// satisfied by *store.Store.
type AuditStore interface {
	DeactivateChat(ctx context.Context, chatID string) error
	AppendAlertLogEntry(ctx context.Context, e model.AlertLogEntry) error
}

const (
	globalMinInterval = 34 * time.Millisecond
	perChatMinInterval = 1 * time.Second
	maxAttempts        = 3
)

// EventPublisher receives a lifecycle event for every terminal delivery
// outcome. Best-effort: a full or absent publisher never blocks the worker.
type EventPublisher interface {
	Publish(event any)
}

// OutcomeEvent is published to the EventPublisher on every terminal outcome.
type OutcomeEvent struct {
	ChatID  string           `json:"chatId"`
	Outcome model.AlertOutcome `json:"outcome"`
	Reason  string           `json:"reason,omitempty"`
}

type item struct {
	chatID         string
	text           string
	attempts       int
	earliestSendAt time.Time
	txHash         string
}

// Queue is a bounded in-process FIFO of pending chat sends, drained by one
// worker goroutine. Enqueue never blocks the caller beyond the capacity
// check; a full queue drops the item (the caller is the orchestrator, which
// must never stall on delivery back-pressure).
type Queue struct {
	store     AuditStore
	sender    ChatSender
	publisher EventPublisher
	capacity  int

	mu       sync.Mutex
	items    *list.List
	notEmpty chan struct{}

	lastGlobalSend time.Time
	lastChatSend   map[string]time.Time
}

// New creates a Queue with the given bounded capacity.
func New(s AuditStore, sender ChatSender, pub EventPublisher, capacity int) *Queue {
	return &Queue{
		store:        s,
		sender:       sender,
		publisher:    pub,
		capacity:     capacity,
		items:        list.New(),
		notEmpty:     make(chan struct{}, 1),
		lastChatSend: make(map[string]time.Time),
	}
}

// Enqueue adds a formatted message for chatID. Non-blocking: if the queue
// is at capacity, the item is dropped and logged.
func (q *Queue) Enqueue(chatID, text, txHash string) {
	q.mu.Lock()
	if q.items.Len() >= q.capacity {
		q.mu.Unlock()
		log.Printf("delivery: queue full (capacity %d), dropping message for %s", q.capacity, chatID)
		return
	}
	q.items.PushBack(&item{chatID: chatID, text: text, txHash: txHash})
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// Depth reports the number of items currently queued.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Run drains the queue until ctx is cancelled, then drains for up to
// shutdownGrace before returning.
func (q *Queue) Run(ctx context.Context, shutdownGrace time.Duration) {
	for {
		select {
		case <-ctx.Done():
			q.drain(shutdownGrace)
			return
		default:
		}

		it := q.popReady()
		if it == nil {
			select {
			case <-ctx.Done():
				q.drain(shutdownGrace)
				return
			case <-q.notEmpty:
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		q.process(ctx, it)
	}
}

func (q *Queue) drain(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		it := q.popReady()
		if it == nil {
			if q.Depth() == 0 {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		q.process(context.Background(), it)
	}
	if remaining := q.Depth(); remaining > 0 {
		log.Printf("delivery: shutdown grace expired with %d items still queued, dropping", remaining)
	}
}

// popReady makes at most one pass over the queue from the front: each item
// whose earliestSendAt has not yet passed is moved to the back, and the
// first due item is removed and returned, so not-ready heads never starve
// later ready items. Returns nil if no item is due.
func (q *Queue) popReady() *item {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Len()
	for i := 0; i < n; i++ {
		front := q.items.Front()
		if front == nil {
			return nil
		}
		it := front.Value.(*item)
		q.items.Remove(front)

		if time.Now().Before(it.earliestSendAt) {
			q.items.PushBack(it)
			continue
		}
		return it
	}
	return nil
}

func (q *Queue) requeue(it *item) {
	q.mu.Lock()
	q.items.PushBack(it)
	q.mu.Unlock()
}

func (q *Queue) process(ctx context.Context, it *item) {
	q.pace(it.chatID)

	outcome, err := q.sender.SendChatMessage(ctx, it.chatID, it.text)

	q.mu.Lock()
	q.lastGlobalSend = time.Now()
	q.lastChatSend[it.chatID] = time.Now()
	q.mu.Unlock()

	if err != nil {
		log.Printf("delivery: send to %s: %v", it.chatID, err)
		outcome = upstream.SendOutcome{Kind: upstream.TransientError}
	}

	switch outcome.Kind {
	case upstream.Delivered:
		q.terminal(ctx, it, model.AlertDelivered, "")

	case upstream.RateLimited:
		it.earliestSendAt = time.Now().Add(time.Duration(outcome.RetryAfterSecs)*time.Second + time.Second)
		q.requeue(it)

	case upstream.PermanentReject:
		if derr := q.store.DeactivateChat(ctx, it.chatID); derr != nil {
			log.Printf("delivery: deactivate chat %s: %v", it.chatID, derr)
		}
		q.terminal(ctx, it, model.AlertRejected, string(outcome.RejectReason))

	case upstream.TransientError:
		it.attempts++
		if it.attempts < maxAttempts {
			it.earliestSendAt = time.Now().Add(time.Duration(5*it.attempts) * time.Second)
			q.requeue(it)
			return
		}
		q.terminal(ctx, it, model.AlertExhausted, "transient error, attempts exhausted")
	}
}

// pace blocks until both the global and per-chat minimum inter-send
// intervals have elapsed.
func (q *Queue) pace(chatID string) {
	for {
		q.mu.Lock()
		now := time.Now()
		globalWait := globalMinInterval - now.Sub(q.lastGlobalSend)
		chatWait := perChatMinInterval - now.Sub(q.lastChatSend[chatID])
		q.mu.Unlock()

		wait := globalWait
		if chatWait > wait {
			wait = chatWait
		}
		if wait <= 0 {
			return
		}
		time.Sleep(wait)
	}
}

func (q *Queue) terminal(ctx context.Context, it *item, outcome model.AlertOutcome, reason string) {
	entry := model.AlertLogEntry{
		TxHash:  it.txHash,
		ChatID:  it.chatID,
		Outcome: outcome,
		Reason:  reason,
	}
	if err := q.store.AppendAlertLogEntry(ctx, entry); err != nil {
		log.Printf("delivery: append alert log: %v", err)
	}
	if q.publisher != nil {
		q.publisher.Publish(OutcomeEvent{ChatID: it.chatID, Outcome: outcome, Reason: reason})
	}
}
