package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3n3sx/faktulove3-sub000/constants"
	"github.com/m3n3sx/faktulove3-sub000/internal/decision"
)

// Event announces a committed status change.
type Event struct {
	DocumentID    uuid.UUID
	Event         decision.Event
	Status        constants.DocumentStatus
	Attempt       int
	Score         float64
	NextAttemptAt *time.Time
	Detail        string
}

// Handler consumes events. It runs on the publisher's goroutine and must not block.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id       int
	statuses []constants.DocumentStatus
	h        Handler
}

// Bus delivers events to subscribers in subscription order.
type Bus struct {
	mu     sync.RWMutex
	next   int
	subs   []subscription
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers h for events reaching one of statuses, or every event
// when none are given. The returned func removes the subscription.
func (b *Bus) Subscribe(h Handler, statuses ...constants.DocumentStatus) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, statuses: statuses, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	}
}

// Publish hands ev to every matching subscriber. A panicking handler is
// logged and skipped.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if len(s.statuses) > 0 && !slices.Contains(s.statuses, ev.Status) {
			continue
		}
		b.deliver(ctx, s, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "document_id", ev.DocumentID, "status", ev.Status, "panic", r)
		}
	}()
	s.h(ctx, ev)
}
