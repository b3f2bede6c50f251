package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"botwatch/internal/model"
	"botwatch/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Errors returned by the outbox.
var (
	ErrInvalidCommand = errors.New("invalid command")
	ErrOutboxFull     = errors.New("command outbox full")
	ErrNoCommandSink  = errors.New("no command sink configured")
)

const (
	defaultOutboxSize   = 32
	defaultCommandRate  = 1.0
	defaultCommandBurst = 3
)

// OutboxConfig bounds the command outbox.
type OutboxConfig struct {
	Size  int     // Queued commands beyond this are rejected
	Rate  float64 // Commands per second emitted to the sink
	Burst int
}

// Outbox validates operator commands, queues them and emits them to the sink at a
// bounded rate. It never interprets a command.
type Outbox struct {
	sink     CommandSink
	queue    chan model.BotCommand
	limiter  *rate.Limiter
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewOutbox creates an outbox for sink, which may be nil.
func NewOutbox(cfg OutboxConfig, sink CommandSink) *Outbox {
	if cfg.Size <= 0 {
		cfg.Size = defaultOutboxSize
	}
	if cfg.Rate <= 0 {
		cfg.Rate = defaultCommandRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultCommandBurst
	}

	return &Outbox{
		sink:     sink,
		queue:    make(chan model.BotCommand, cfg.Size),
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		validate: validator.New(),
		logger:   log.With().Str("component", "outbox").Logger(),
		now:      time.Now,
	}
}

// Enqueue validates cmd, stamps it and queues it for emission. It returns the
// command as it will be sent.
func (o *Outbox) Enqueue(cmd model.BotCommand) (model.BotCommand, error) {
	if o.sink == nil {
		return cmd, ErrNoCommandSink
	}
	if err := o.check(cmd); err != nil {
		return cmd, err
	}

	if cmd.Timestamp == nil {
		ts := o.now().UTC()
		cmd.Timestamp = &ts
	}
	if cmd.Params == nil {
		cmd.Params = map[string]string{}
	}
	cmd.Executed = false

	select {
	case o.queue <- cmd:
		o.logger.Info().Str("command", string(cmd.Command)).Msg("command queued")
		return cmd, nil
	default:
		return cmd, ErrOutboxFull
	}
}

func (o *Outbox) check(cmd model.BotCommand) error {
	if err := o.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if cmd.Command == model.CommandForceStrategy && cmd.Params["strategy"] == "" {
		return fmt.Errorf("%w: force_strategy requires a strategy parameter", ErrInvalidCommand)
	}
	if pair, ok := cmd.Params["pair"]; ok {
		if err := utils.ValidatePair(pair); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
	}
	return nil
}

// Pending returns the number of queued commands.
func (o *Outbox) Pending() int {
	return len(o.queue)
}

// Start runs the emitter until ctx is cancelled. It does nothing without a sink.
func (o *Outbox) Start(ctx context.Context, wg *sync.WaitGroup) {
	if o.sink == nil {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-o.queue:
				if err := o.limiter.Wait(ctx); err != nil {
					return
				}
				if err := o.sink.SendCommand(ctx, cmd); err != nil {
					o.logger.Warn().Err(err).Str("command", string(cmd.Command)).Msg("failed to emit command")
					continue
				}
				o.logger.Info().Str("command", string(cmd.Command)).Msg("command emitted")
			}
		}
	}()
}
