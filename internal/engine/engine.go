// Package engine fuses the three telemetry streams into consistent derived views.
//
// The Engine is an explicit object with a Start/Stop lifecycle. A single loop
// goroutine owns the stream store, the activity feed and every derived view; all
// mutations happen on that goroutine in reaction to backfill results, pushed events,
// clock ticks and control requests. After each mutation the affected views are
// recomputed and a new immutable Snapshot is published atomically, so a reader that
// calls Snapshot after a mutation completes always sees the post-mutation state.
//
// Thread Safety:
//   - Store, feed and cached views are only touched by the loop goroutine
//   - Snapshot is read through an atomic pointer and never mutated after publication
//   - Control requests are funneled through a channel and executed on the loop
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"botwatch/internal/feed"
	"botwatch/internal/model"
	"botwatch/internal/monitor"
	"botwatch/internal/store"
	"botwatch/internal/views"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Errors returned by the engine.
var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotRunning     = errors.New("engine not running")
	ErrStopped        = errors.New("engine stopped")
)

// Source is the boundary to the telemetry transport.
type Source interface {
	// Backfill returns up to limit of the most recent records of stream, newest first.
	// It returns an empty slice, never nil, when there is no data.
	Backfill(ctx context.Context, stream model.Stream, limit int) ([]model.Event, error)

	// Subscribe starts the push subscription. The channel is closed when the transport
	// disconnects or ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan model.Event, error)
}

// CommandSink emits operator commands to the bot.
type CommandSink interface {
	SendCommand(ctx context.Context, cmd model.BotCommand) error
}

// Default backfill limits per stream.
var DefaultBackfillLimits = map[model.Stream]int{
	model.StreamTrades:   500,
	model.StreamStatus:   1,
	model.StreamAnalysis: 100,
}

const (
	defaultClockInterval = time.Second
	recentTradesCount    = 10
	strategyLogCount     = 20
	updatesBuffer        = 16
)

// Config holds engine settings. Zero values select defaults.
type Config struct {
	Store          store.Config
	FeedCapacity   int
	StaleAfter     time.Duration
	Strategies     []string
	BackfillLimits map[model.Stream]int
	ClockInterval  time.Duration
	Outbox         OutboxConfig
}

type backfillResult struct {
	stream model.Stream
	events []model.Event
	err    error
}

// Engine is the telemetry fusion engine.
type Engine struct {
	cfg     Config
	source  Source
	outbox  *Outbox
	logger  zerolog.Logger
	now     func() time.Time
	started atomic.Bool
	running atomic.Bool
	stopped atomic.Bool

	snapshot atomic.Pointer[Snapshot]
	updates  chan *Snapshot
	control  chan func()
	done     chan struct{}

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// owned by the loop goroutine
	store            *store.Store
	feed             *feed.Feed
	monitor          *monitor.Monitor
	filter           views.ExchangeFilter
	connected        bool
	pendingBackfills int
}

// New creates an engine. source and sink may be nil: without a source the engine
// runs empty and disconnected, without a sink commands are rejected.
func New(cfg Config, source Source, sink CommandSink) *Engine {
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = views.DefaultStrategies
	}
	if cfg.BackfillLimits == nil {
		cfg.BackfillLimits = DefaultBackfillLimits
	}
	if cfg.ClockInterval <= 0 {
		cfg.ClockInterval = defaultClockInterval
	}

	e := &Engine{
		cfg:     cfg,
		source:  source,
		logger:  log.With().Str("component", "engine").Logger(),
		now:     time.Now,
		updates: make(chan *Snapshot, updatesBuffer),
		control: make(chan func()),
		done:    make(chan struct{}),
		store:   store.New(cfg.Store),
		feed:    feed.New(cfg.FeedCapacity),
		monitor: monitor.New(cfg.StaleAfter),
		filter:  views.FilterAll,
	}
	e.outbox = NewOutbox(cfg.Outbox, sink)
	e.snapshot.Store(e.build(&Snapshot{}, store.ViewAll))
	return e
}

// Start backfills every stream, opens the push subscription and starts the loop.
// Transport failures are logged and leave the engine running disconnected.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.stopped.Load() {
		return ErrStopped
	}
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	var events <-chan model.Event
	backfills := make(chan backfillResult, len(model.Streams))

	if e.source == nil {
		e.logger.Warn().Msg("no telemetry source configured, running disconnected")
	} else {
		ch, err := e.source.Subscribe(ctx)
		if err != nil {
			e.logger.Warn().Err(err).Msg("subscription failed, running disconnected")
		} else {
			events = ch
			e.connected = true
		}

		e.pendingBackfills = len(model.Streams)
		for _, stream := range model.Streams {
			e.wg.Add(1)
			go func(stream model.Stream) {
				defer e.wg.Done()
				evs, err := e.source.Backfill(ctx, stream, e.cfg.BackfillLimits[stream])
				select {
				case backfills <- backfillResult{stream: stream, events: evs, err: err}:
				case <-ctx.Done():
				}
			}(stream)
		}
	}

	e.outbox.Start(ctx, &e.wg)
	e.publish(e.build(e.snapshot.Load(), store.ViewHealth))
	e.running.Store(true)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(ctx, events, backfills)
	}()

	e.logger.Info().Bool("connected", e.connected).Msg("engine started")
	return nil
}

// Stop cancels the subscription, stops the clock and waits for the loop to exit.
// It is safe to call multiple times, and before Start.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.lifecycle.Lock()
		defer e.lifecycle.Unlock()

		e.stopped.Store(true)
		e.running.Store(false)
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		close(e.updates)
		e.logger.Info().Msg("engine stopped")
	})
}

func (e *Engine) loop(ctx context.Context, events <-chan model.Event, backfills <-chan backfillResult) {
	ticker := time.NewTicker(e.cfg.ClockInterval)
	defer ticker.Stop()
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.recompute(store.ViewHealth)
		case res := <-backfills:
			e.applyBackfill(res)
		case ev, ok := <-events:
			if !ok {
				events = nil
				e.connected = false
				e.logger.Warn().Msg("subscription closed, transport disconnected")
				e.recompute(store.ViewHealth)
				continue
			}
			e.applyEvent(ev)
		case fn := <-e.control:
			fn()
		}
	}
}

func (e *Engine) applyBackfill(res backfillResult) {
	logger := e.logger.With().Str("stream", string(res.stream)).Logger()

	if res.err != nil {
		logger.Warn().Err(res.err).Msg("backfill failed")
	} else {
		r, err := e.store.Backfill(res.stream, res.events)
		if err != nil {
			logger.Warn().Err(err).Int("skipped", r.Skipped).Msg("backfill skipped invalid records")
		}
		logger.Info().Int("records", len(res.events)-r.Skipped).Msg("backfill applied")
		e.recompute(r.Affected)
	}

	e.pendingBackfills--
	if e.pendingBackfills == 0 {
		e.feed.Seed(e.store.Trades(), e.store.Analysis())
		e.recompute(store.ViewFeed)
	}
}

func (e *Engine) applyEvent(ev model.Event) {
	res, err := e.store.Append(ev)
	if err != nil {
		e.logger.Warn().Err(err).Str("stream", string(ev.Stream)).Msg("dropping malformed event")
		return
	}
	if res.Ignored {
		e.logger.Debug().Str("stream", string(ev.Stream)).Msg("duplicate event ignored")
		return
	}

	var src *feed.Source
	switch ev.Stream {
	case model.StreamTrades:
		s := feed.FromTrade(*ev.Trade)
		src = &s
	case model.StreamAnalysis:
		s := feed.FromAnalysis(*ev.Analysis)
		src = &s
	}
	if src != nil {
		if _, err := e.feed.Push(*src); err != nil {
			e.logger.Warn().Err(err).Msg("feed entry not synthesized")
		}
	}

	e.recompute(res.Affected)
}

// recompute rebuilds the affected views and publishes a new snapshot.
func (e *Engine) recompute(affected store.View) {
	if affected == 0 {
		return
	}
	e.publish(e.build(e.snapshot.Load(), affected))
}

// publish stores next as the current snapshot and offers it to Updates consumers.
// A full updates buffer drops its oldest snapshot.
func (e *Engine) publish(next *Snapshot) {
	e.snapshot.Store(next)
	select {
	case e.updates <- next:
	default:
		select {
		case <-e.updates:
		default:
		}
		select {
		case e.updates <- next:
		default:
		}
	}
}

// Snapshot returns the latest published snapshot. It never returns nil.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Updates returns the channel of published snapshots. It is closed by Stop.
func (e *Engine) Updates() <-chan *Snapshot {
	return e.updates
}

// Connected reports whether the feed is live as of the latest snapshot: the
// transport is up and the heartbeat is not stale.
func (e *Engine) Connected() bool {
	return e.Snapshot().Health.Connected
}

// SetExchangeFilter restricts the trades view to one exchange, or "all". The store
// is left untouched. The new filter is visible in Snapshot when the call returns.
func (e *Engine) SetExchangeFilter(ctx context.Context, filter string) error {
	f, err := views.ParseExchangeFilter(filter)
	if err != nil {
		return err
	}
	return e.do(ctx, func() {
		if e.filter == f {
			return
		}
		e.filter = f
		e.recompute(store.ViewTrades)
	})
}

// SendCommand validates cmd and queues it for the command sink.
func (e *Engine) SendCommand(cmd model.BotCommand) (model.BotCommand, error) {
	return e.outbox.Enqueue(cmd)
}

// do runs fn on the loop goroutine and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	if !e.running.Load() {
		return ErrNotRunning
	}

	finished := make(chan struct{})
	select {
	case e.control <- func() { fn(); close(finished) }:
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return fmt.Errorf("control request: %w", ctx.Err())
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("control request: %w", ctx.Err())
	}
}
