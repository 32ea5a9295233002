// Package notifier fans out available-copy counts per item to subscribers.
//
// Publishing never blocks: it marks the item's topic dirty and one worker per
// topic recomputes the count and delivers it. Each subscriber holds a single
// slot, so a slow reader only ever sees the latest value.
package notifier

import (
	"context"
	"errors"
	"sync"

	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("notifier closed")

// Counter computes the current available-copy count of an item.
type Counter func(ctx context.Context, itemID uuid.UUID) (int, error)

// Sink receives every recomputed value, e.g. a broker bridge.
type Sink interface {
	PublishAvailability(ctx context.Context, a model.Availability) error
}

type subscriber struct {
	ch chan model.Availability
	// delivered is set once a recount reached ch.
	delivered bool
}

type topic struct {
	itemID  uuid.UUID
	subs    map[uint64]*subscriber
	dirty   bool
	running bool
}

type Notifier struct {
	count Counter
	log   *zap.Logger
	sinks []Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	topics map[uuid.UUID]*topic
	nextID uint64
	closed bool
}

type Option func(*Notifier)

func WithSinks(sinks ...Sink) Option {
	return func(n *Notifier) {
		n.sinks = append(n.sinks, sinks...)
	}
}

func New(count Counter, log *zap.Logger, opts ...Option) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		count:  count,
		log:    log.Named("notifier"),
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[uuid.UUID]*topic),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// topicLocked returns the topic of itemID, creating it on first use. n.mu must be held.
func (n *Notifier) topicLocked(itemID uuid.UUID) *topic {
	t, ok := n.topics[itemID]
	if !ok {
		t = &topic{itemID: itemID, subs: make(map[uint64]*subscriber)}
		n.topics[itemID] = t
	}
	return t
}

// Publish schedules a recount of itemID for all subscribers.
func (n *Notifier) Publish(itemID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	t := n.topicLocked(itemID)
	if t.running {
		t.dirty = true
		return
	}
	t.running = true
	n.wg.Add(1)
	go n.drain(t)
}

func (n *Notifier) drain(t *topic) {
	defer n.wg.Done()
	for {
		n.mu.Lock()
		t.dirty = false
		n.mu.Unlock()

		cnt, err := n.count(n.ctx, t.itemID)
		if err != nil {
			n.log.Warn("count available copies", zap.Stringer("item", t.itemID), zap.Error(err))
		} else {
			a := model.Availability{ItemID: t.itemID, AvailableCount: cnt}
			n.fanout(t, a)
			n.toSinks(a)
		}

		n.mu.Lock()
		if !t.dirty || n.closed {
			t.running = false
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()
	}
}

func (n *Notifier) fanout(t *topic, a model.Availability) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, sub := range t.subs {
		sub.delivered = true
		select {
		case sub.ch <- a:
			continue
		default:
		}
		// replace the stale value
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- a:
		default:
			n.log.Debug("subscriber buffer full", zap.Uint64("sub", id))
		}
	}
}

func (n *Notifier) toSinks(a model.Availability) {
	for _, s := range n.sinks {
		if err := s.PublishAvailability(n.ctx, a); err != nil {
			n.log.Warn("availability sink", zap.Stringer("item", a.ItemID), zap.Error(err))
		}
	}
}

// Subscribe returns a channel that first yields the current count of itemID,
// then every later change. The channel is closed when ctx is done.
//
// The subscriber is registered before the initial count is read, so a recount
// racing with that read is delivered to it and is not overwritten.
func (n *Notifier) Subscribe(ctx context.Context, itemID uuid.UUID) (<-chan model.Availability, error) {
	sub := &subscriber{ch: make(chan model.Availability, 1)}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	t := n.topicLocked(itemID)
	n.nextID++
	id := n.nextID
	t.subs[id] = sub
	n.mu.Unlock()

	cnt, err := n.count(ctx, itemID)

	n.mu.Lock()
	if _, ok := t.subs[id]; !ok {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	if err != nil {
		delete(t.subs, id)
		n.mu.Unlock()
		return nil, err
	}
	if !sub.delivered {
		sub.ch <- model.Availability{ItemID: itemID, AvailableCount: cnt}
	}
	n.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-n.ctx.Done():
			return
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub.ch)
		}
	}()
	return sub.ch, nil
}

// Subscribers reports how many subscriptions itemID currently has.
func (n *Notifier) Subscribers(itemID uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.topics[itemID]; ok {
		return len(t.subs)
	}
	return 0
}

// Close ends every subscription and waits for in-flight recounts.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for _, t := range n.topics {
		for id, sub := range t.subs {
			delete(t.subs, id)
			close(sub.ch)
		}
	}
	n.mu.Unlock()

	n.cancel()
	n.wg.Wait()
}
