package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
)

// Event is one observable step in a job's lifecycle, fanned out to any
// subscriber watching that job (the SSE endpoint, tests).
type Event struct {
	JobID  domain.JobID
	Type   EventType
	Status domain.JobStatus
	// Phase is the pipeline stage for running-status events
	// ("fetching", "transcoding", "storing").
	Phase     string
	Data      string
	Timestamp int64
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.JobID][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.JobID][]chan Event),
	}
}

// Subscribe returns a channel receiving events for one job plus an
// unsubscribe function that closes it.
func (b *EventBus) Subscribe(id domain.JobID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	b.subs[id] = append(b.subs[id], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[id]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[id] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[id]) == 0 {
			delete(b.subs, id)
		}
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the job. Slow subscribers
// lose events rather than blocking the pipeline.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID)
		}
	}
}
