// Package event provides an in-process publish/subscribe bus scoped by
// organization, used to stream processing-job updates to connected clients.
package event

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one message on the bus
type Event struct {
	Type           string      `json:"type"`
	OrganizationID string      `json:"organization_id"`
	Payload        interface{} `json:"payload"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Job event types
const (
	TypeJobCreated   = "job_created"
	TypeJobUpdated   = "job_updated"
	TypeJobCompleted = "job_completed"
	TypeJobFailed    = "job_failed"
)

// Subscription is one subscriber's handle. Receive from C; call Cancel when
// done. After Cancel the channel is closed and no further events arrive.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

// Cancel removes the subscription from the bus and closes C
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Bus fans events out to per-organization subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event
	nextID int
	buffer int
	logger *zap.Logger
}

// NewBus creates a bus whose subscriber channels buffer the given number of
// events. A non-positive buffer defaults to 16.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{
		subs:   make(map[string]map[int]chan Event),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a subscriber for one organization's events
func (b *Bus) Subscribe(organizationID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, b.buffer)
	if b.subs[organizationID] == nil {
		b.subs[organizationID] = make(map[int]chan Event)
	}
	b.subs[organizationID][id] = ch

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[organizationID]; ok {
				if c, ok := set[id]; ok {
					delete(set, id)
					close(c)
				}
				if len(set) == 0 {
					delete(b.subs, organizationID)
				}
			}
		},
	}
}

// Publish delivers the event to every subscriber of its organization
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[evt.OrganizationID] {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("Dropping event for slow subscriber",
				zap.String("type", evt.Type),
				zap.String("organization_id", evt.OrganizationID))
		}
	}
}

// SubscriberCount returns the number of active subscribers for an organization
func (b *Bus) SubscriberCount(organizationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[organizationID])
}
