// Package service exposes the engine read model over HTTP.
//
// The dispatcher fans published snapshots out to stream subscribers while handling
// slow clients gracefully.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"botwatch/internal/engine"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Errors returned by the dispatcher.
var (
	ErrDispatcherNotStarted = errors.New("dispatcher not started")
	ErrDispatcherStopped    = errors.New("dispatcher stopped")
	ErrTooManySubscribers   = errors.New("too many subscribers")
)

const (
	defaultSubscriberBuffer = 8
	requestBuffer           = 10
)

// Subscriber receives every snapshot published after it subscribed.
type Subscriber struct {
	id int64
	ch chan *engine.Snapshot
}

// C returns the delivery channel. It is closed on unsubscribe or dispatcher shutdown.
func (s *Subscriber) C() <-chan *engine.Snapshot {
	return s.ch
}

// subscriptionRequest adds or removes a subscriber. Both travel on one channel so
// a quick unsubscribe can never overtake its own subscribe.
type subscriptionRequest struct {
	sub    *Subscriber
	remove bool
}

// DispatcherConfig holds configuration parameters for the Dispatcher.
type DispatcherConfig struct {
	MaxSubscribers int // Zero means unlimited
	BufferSize     int // Snapshots buffered per subscriber
}

// Dispatcher is a single-owner fan-out actor. The dispatch goroutine owns the
// subscribers map; everything else talks to it through channels.
type Dispatcher struct {
	cfg              DispatcherConfig
	subscribers map[int64]*Subscriber // owned by the dispatch goroutine
	requests    chan subscriptionRequest
	started     atomic.Bool
	active      atomic.Int64
	nextID      atomic.Int64
	done        chan struct{}
	logger      zerolog.Logger
}

// NewDispatcher creates a new Dispatcher instance with the provided configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultSubscriberBuffer
	}
	return &Dispatcher{
		cfg:         cfg,
		subscribers: make(map[int64]*Subscriber),
		requests:    make(chan subscriptionRequest, requestBuffer),
		done:        make(chan struct{}),
		logger:      log.With().Str("component", "dispatcher").Logger(),
	}
}

// Subscribe registers a new subscriber.
func (b *Dispatcher) Subscribe() (*Subscriber, error) {
	if !b.started.Load() {
		return nil, ErrDispatcherNotStarted
	}
	select {
	case <-b.done:
		return nil, ErrDispatcherStopped
	default:
	}

	if n := b.active.Add(1); b.cfg.MaxSubscribers > 0 && n > int64(b.cfg.MaxSubscribers) {
		b.active.Add(-1)
		return nil, ErrTooManySubscribers
	}

	sub := &Subscriber{
		id: b.nextID.Add(1),
		ch: make(chan *engine.Snapshot, b.cfg.BufferSize),
	}

	select {
	case b.requests <- subscriptionRequest{sub: sub}:
		return sub, nil
	default:
		b.active.Add(-1)
		return nil, fmt.Errorf("subscription channel is full")
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Dispatcher) Subscribers() int {
	return int(b.active.Load())
}

// Done is closed when the dispatch goroutine exits.
func (b *Dispatcher) Done() <-chan struct{} {
	return b.done
}

func (b *Dispatcher) subscribe(sub *Subscriber) {
	b.subscribers[sub.id] = sub
	b.logger.Debug().Int64("subscriber", sub.id).Msg("subscriber added")
}

// Unsubscribe removes a subscriber from the dispatcher.
func (b *Dispatcher) Unsubscribe(sub *Subscriber) error {
	select {
	case b.requests <- subscriptionRequest{sub: sub, remove: true}:
		return nil
	case <-b.done:
		return nil
	default:
		return fmt.Errorf("unsubscription channel is full")
	}
}

func (b *Dispatcher) unsubscribe(sub *Subscriber) {
	if _, ok := b.subscribers[sub.id]; ok {
		delete(b.subscribers, sub.id)
		close(sub.ch)
		b.active.Add(-1)
		b.logger.Debug().Int64("subscriber", sub.id).Msg("subscriber removed")
	}
}

// StartDispatching runs the dispatch goroutine until ctx is cancelled or
// snapshots is closed. On exit every subscriber channel is closed.
func (b *Dispatcher) StartDispatching(ctx context.Context, snapshots <-chan *engine.Snapshot) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	go func() {
		defer func() {
			b.active.Store(0)
			close(b.done)
			for _, sub := range b.subscribers {
				close(sub.ch)
			}
			b.subscribers = make(map[int64]*Subscriber)
		}()

		for {
			select {
			case <-ctx.Done():
				b.logger.Info().Msg("dispatcher stopped")
				return
			case req := <-b.requests:
				if req.remove {
					b.unsubscribe(req.sub)
				} else {
					b.subscribe(req.sub)
				}
			case snap, ok := <-snapshots:
				if !ok {
					b.logger.Info().Msg("snapshot source closed, dispatcher stopped")
					return
				}
				b.dispatch(snap)
			}
		}
	}()
	return nil
}

// dispatch offers snap to every subscriber. A slow subscriber loses its oldest
// buffered snapshot; the newest is always delivered.
func (b *Dispatcher) dispatch(snap *engine.Snapshot) {
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- snap:
		default:
			b.logger.Warn().Int64("subscriber", sub.id).Msg("subscriber is too slow, dropping oldest buffered snapshot")
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}
