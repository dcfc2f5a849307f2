// Package broadcast fans campaign events out to live subscribers.
//
// Publishing never blocks: every subscriber has a bounded buffer and one that
// falls behind is dropped, which closes its channel. Dropped subscribers recover
// through the event log using the last sequence they saw.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/KirkDiggler/rpg-encounters/internal/entities"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

// DefaultBuffer is the per-subscriber queue length when none is configured
const DefaultBuffer = 64

// Publisher delivers committed events to live subscribers
type Publisher interface {
	Publish(campaignID string, events ...*entities.Event)
}

// Broadcaster is a Publisher that also hands out subscriptions
type Broadcaster interface {
	Publisher
	Subscribe(ctx context.Context, campaignID string) (*Subscription, error)
}

var _ Broadcaster = (*Hub)(nil)

// Config contains configuration for the hub
type Config struct {
	// Buffer is the per-subscriber queue length (optional, defaults to 64)
	Buffer int
}

// Validate validates the config
func (cfg *Config) Validate() error {
	if cfg == nil {
		return nil
	}
	if cfg.Buffer < 0 {
		return errors.InvalidArgument("buffer must not be negative")
	}
	return nil
}

// Hub holds the subscriber sets of every campaign
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]*Subscription
	buffer int
	nextID atomic.Uint64
}

// New creates a hub
func New(cfg *Config) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	buffer := DefaultBuffer
	if cfg != nil && cfg.Buffer > 0 {
		buffer = cfg.Buffer
	}

	return &Hub{
		subs:   make(map[string]map[uint64]*Subscription),
		buffer: buffer,
	}, nil
}

// Subscription is one live listener on a campaign
type Subscription struct {
	id         uint64
	campaignID string
	hub        *Hub
	events     chan *entities.Event
	done       chan struct{}
	dropped    atomic.Bool
	closeOnce  sync.Once
}

// Events yields published events in order. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan *entities.Event {
	return s.events
}

// Done is closed when the subscription ends for any reason
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped reports whether the hub ended the subscription because it fell behind
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// CampaignID is the campaign the subscription listens on
func (s *Subscription) CampaignID() string {
	return s.campaignID
}

// Close ends the subscription; safe to call more than once
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Subscribe registers a listener on campaignID that lives until ctx is done or
// Close is called
func (h *Hub) Subscribe(ctx context.Context, campaignID string) (*Subscription, error) {
	if campaignID == "" {
		return nil, errors.InvalidArgument("campaign ID cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeCanceled, "subscriber went away")
	}

	sub := &Subscription{
		id:         h.nextID.Add(1),
		campaignID: campaignID,
		hub:        h,
		events:     make(chan *entities.Event, h.buffer),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.subs[campaignID]
	if !ok {
		set = make(map[uint64]*Subscription)
		h.subs[campaignID] = set
	}
	set[sub.id] = sub
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			h.remove(sub)
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Publish enqueues events for every subscriber of campaignID without blocking.
// Callers publish in sequence order; the hub preserves it per subscriber.
func (h *Hub) Publish(campaignID string, events ...*entities.Event) {
	if len(events) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[campaignID] {
		for _, evt := range events {
			select {
			case sub.events <- evt:
				continue
			default:
			}

			slog.Warn("dropping slow event subscriber",
				"campaign_id", campaignID,
				"subscriber_id", sub.id,
				"seq", evt.Seq)
			sub.dropped.Store(true)
			h.removeLocked(sub)
			break
		}
	}
}

// SubscriberCount returns the number of live subscribers on campaignID
func (h *Hub) SubscriberCount(campaignID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[campaignID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// removeLocked closes the subscriber's channels; sends only happen under h.mu so
// no publisher can write to a closed channel
func (h *Hub) removeLocked(sub *Subscription) {
	sub.closeOnce.Do(func() {
		if set, ok := h.subs[sub.campaignID]; ok {
			delete(set, sub.id)
			if len(set) == 0 {
				delete(h.subs, sub.campaignID)
			}
		}
		close(sub.events)
		close(sub.done)
	})
}
