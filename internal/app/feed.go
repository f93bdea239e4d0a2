/**
 * @description
 * This file implements the feed synchronizer: a bounded, newest-first window
 * over the promotion catalog that clients can subscribe to. A new subscriber
 * receives the full current window as snapshot events, then incremental
 * add/change/remove deltas as the window evolves.
 *
 * The synchronizer polls the catalog on a fixed interval and diffs the
 * result against its previous window. Entries that fall off the bottom of
 * the window are reported as removed even though they still exist in the
 * catalog; the feed describes the window, not the table.
 *
 * @dependencies
 * - context, log, sync, time: Standard Go libraries.
 * - internal/domain, internal/store: catalog model and reads.
 * - pkg/rabbitmq: delta fan-out to the broker.
 */

package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creatorlift/promotion-engine/internal/domain"
	"github.com/creatorlift/promotion-engine/internal/store"
	"github.com/creatorlift/promotion-engine/pkg/rabbitmq"
)

const subscriberBuffer = 256

// FeedSynchronizer maintains the bounded promotion window and fans deltas
// out to subscribers.
type FeedSynchronizer struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	exchange      string
	window        int
	pollInterval  time.Duration

	mu          sync.Mutex
	current     []domain.Promotion
	subscribers map[uint64]chan domain.FeedEvent
	nextSubID   uint64
	closed      bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeedSynchronizer creates a feed synchronizer over the given window size.
func NewFeedSynchronizer(repo store.Repository, producer rabbitmq.Publisher, exchange string, window int, pollInterval time.Duration) *FeedSynchronizer {
	return &FeedSynchronizer{
		repo:          repo,
		eventProducer: producer,
		exchange:      exchange,
		window:        window,
		pollInterval:  pollInterval,
		subscribers:   make(map[uint64]chan domain.FeedEvent),
		done:          make(chan struct{}),
	}
}

// Start loads the initial window and begins the poll loop. Call once.
func (f *FeedSynchronizer) Start(ctx context.Context) error {
	initial, err := f.repo.ListPromotions(ctx, f.window)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.current = initial
	f.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.run(loopCtx)
	log.Printf("level=info component=feed msg=\"feed synchronizer started\" window=%d poll_interval=%s", f.window, f.pollInterval)
	return nil
}

// Stop ends the poll loop and closes every subscriber channel.
func (f *FeedSynchronizer) Stop() {
	if f.cancel != nil {
		f.cancel()
		<-f.done
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Snapshot returns a copy of the current window, newest first.
func (f *FeedSynchronizer) Snapshot() []domain.Promotion {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Promotion, len(f.current))
	copy(out, f.current)
	return out
}

// Subscribe registers a feed consumer. The returned channel is seeded with
// the current window as snapshot events, after which deltas arrive in window
// order. The unsubscribe function must be called when the consumer is done;
// it is safe to call more than once.
func (f *FeedSynchronizer) Subscribe() (<-chan domain.FeedEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan domain.FeedEvent, subscriberBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	now := time.Now().UTC()
	for _, promo := range f.current {
		ch <- domain.FeedEvent{Type: domain.FeedAdded, Snapshot: true, Promotion: promo, Timestamp: now}
	}

	id := f.nextSubID
	f.nextSubID++
	f.subscribers[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if existing, ok := f.subscribers[id]; ok {
				delete(f.subscribers, id)
				close(existing)
			}
		})
	}
	return ch, unsubscribe
}

func (f *FeedSynchronizer) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.refresh(ctx); err != nil {
				log.Printf("level=warn component=feed msg=\"feed refresh failed\" err=%v", err)
			}
		}
	}
}

// refresh reloads the window and broadcasts the diff against the previous one.
func (f *FeedSynchronizer) refresh(ctx context.Context) error {
	next, err := f.repo.ListPromotions(ctx, f.window)
	if err != nil {
		return err
	}

	f.mu.Lock()
	events := diffWindows(f.current, next)
	f.current = next
	subs := make([]chan domain.FeedEvent, 0, len(f.subscribers))
	for _, ch := range f.subscribers {
		subs = append(subs, ch)
	}
	f.mu.Unlock()

	for _, event := range events {
		for _, ch := range subs {
			select {
			case ch <- event:
			default:
				// Subscriber is not draining; dropping beats blocking the loop.
			}
		}
		f.publish(event)
	}
	return nil
}

// diffWindows computes the add/change/remove deltas between two windows.
// A change is any difference in the counters a feed entry displays.
func diffWindows(prev, next []domain.Promotion) []domain.FeedEvent {
	now := time.Now().UTC()
	prevByID := make(map[uuid.UUID]domain.Promotion, len(prev))
	for _, promo := range prev {
		prevByID[promo.ID] = promo
	}

	var events []domain.FeedEvent
	seen := make(map[uuid.UUID]bool, len(next))
	for _, promo := range next {
		seen[promo.ID] = true
		old, ok := prevByID[promo.ID]
		if !ok {
			events = append(events, domain.FeedEvent{Type: domain.FeedAdded, Promotion: promo, Timestamp: now})
			continue
		}
		if old.ViewCount != promo.ViewCount || old.ReportCount != promo.ReportCount {
			events = append(events, domain.FeedEvent{Type: domain.FeedChanged, Promotion: promo, Timestamp: now})
		}
	}
	for _, promo := range prev {
		if !seen[promo.ID] {
			events = append(events, domain.FeedEvent{Type: domain.FeedRemoved, Promotion: promo, Timestamp: now})
		}
	}
	return events
}

func (f *FeedSynchronizer) publish(event domain.FeedEvent) {
	if f.eventProducer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	routingKey := "feed." + string(event.Type)
	if err := f.eventProducer.Publish(ctx, f.exchange, routingKey, event); err != nil {
		log.Printf("level=warn component=feed msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
