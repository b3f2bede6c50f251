package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"botwatch/internal/engine"
	"botwatch/internal/model"
	"botwatch/internal/views"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingPeriod   = 30 * time.Second
	streamPongWait     = 60 * time.Second
)

// SnapshotEngine is the part of the engine the read API depends on.
type SnapshotEngine interface {
	Snapshot() *engine.Snapshot
	Updates() <-chan *engine.Snapshot
	SetExchangeFilter(ctx context.Context, filter string) error
	SendCommand(cmd model.BotCommand) (model.BotCommand, error)
}

// SubscriptionManager defines the interface for managing stream subscribers and
// distributing snapshots to them.
type SubscriptionManager interface {
	Subscribe() (*Subscriber, error)
	Unsubscribe(sub *Subscriber) error
	StartDispatching(ctx context.Context, ch <-chan *engine.Snapshot) error
	Done() <-chan struct{}
}

// TelemetryService serves the engine views over HTTP and streams published
// snapshots to websocket clients.
type TelemetryService struct {
	engine              SnapshotEngine
	subscriptionManager SubscriptionManager
	upgrader            websocket.Upgrader
	started             atomic.Bool
	cancel              context.CancelFunc
	now                 func() time.Time
	logger              zerolog.Logger
}

// NewTelemetryService creates a stopped service.
func NewTelemetryService(eng SnapshotEngine, manager SubscriptionManager) *TelemetryService {
	return &TelemetryService{
		engine:              eng,
		subscriptionManager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now:    time.Now,
		logger: log.With().Str("component", "api").Logger(),
	}
}

// Start forwards the engine's published snapshots to the subscription manager.
func (ts *TelemetryService) Start(ctx context.Context) error {
	if !ts.started.CompareAndSwap(false, true) {
		return errors.New("telemetry service has already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := ts.subscriptionManager.StartDispatching(ctx, ts.engine.Updates()); err != nil {
		cancel()
		ts.started.Store(false)
		return fmt.Errorf("failed to start dispatching: %w", err)
	}

	ts.cancel = cancel
	return nil
}

// Stop shuts the dispatcher down, closing every open stream.
func (ts *TelemetryService) Stop() error {
	if !ts.started.CompareAndSwap(true, false) {
		return errors.New("service not started")
	}

	if ts.cancel != nil {
		ts.cancel()
		ts.cancel = nil
	}

	ts.logger.Info().Msg("telemetry service stopped")
	return nil
}

func (ts *TelemetryService) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, ts.engine.Snapshot())
}

func (ts *TelemetryService) GetOverview(c *gin.Context) {
	c.JSON(http.StatusOK, ts.engine.Snapshot().Overview)
}

func (ts *TelemetryService) GetTriggers(c *gin.Context) {
	c.JSON(http.StatusOK, ts.engine.Snapshot().Triggers)
}

func (ts *TelemetryService) GetPositions(c *gin.Context) {
	c.JSON(http.StatusOK, ts.engine.Snapshot().Positions)
}

// GetStrategies returns the strategy statistics, optionally broken down by
// exchange or market with ?by=exchange|market.
func (ts *TelemetryService) GetStrategies(c *gin.Context) {
	snap := ts.engine.Snapshot()
	switch c.Query("by") {
	case "":
		c.JSON(http.StatusOK, snap.Strategies)
	case "exchange":
		c.JSON(http.StatusOK, snap.ExchangeStats)
	case "market":
		c.JSON(http.StatusOK, snap.MarketStats)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "by must be exchange or market"})
	}
}

func (ts *TelemetryService) GetFeed(c *gin.Context) {
	c.JSON(http.StatusOK, ts.engine.Snapshot().Feed)
}

func (ts *TelemetryService) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, ts.engine.Snapshot().Health)
}

func (ts *TelemetryService) GetStrategyLog(c *gin.Context) {
	c.JSON(http.StatusOK, ts.engine.Snapshot().StrategyLog)
}

// GetTrades returns the filtered trade list. An exchange query parameter changes
// the engine filter first.
func (ts *TelemetryService) GetTrades(c *gin.Context) {
	if !ts.applyFilter(c) {
		return
	}

	snap := ts.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"filter":        snap.Filter,
		"count":         len(snap.Trades),
		"trades":        snap.Trades,
		"recent_trades": snap.RecentTrades,
		"total_pnl":     snap.TotalPnL,
		"today_pnl":     snap.TodayPnL,
	})
}

// GetTradesCSV exports the filtered trade list as CSV.
func (ts *TelemetryService) GetTradesCSV(c *gin.Context) {
	if !ts.applyFilter(c) {
		return
	}

	trades := ts.engine.Snapshot().Trades
	if len(trades) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	data, err := views.TradesCSV(trades)
	if err != nil {
		ts.logger.Error().Err(err).Msg("failed to render trades csv")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render csv"})
		return
	}

	filename := fmt.Sprintf("trades-%s.csv", ts.now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// applyFilter sets the exchange filter from the query string, writing the error
// response itself when it fails.
func (ts *TelemetryService) applyFilter(c *gin.Context) bool {
	exchange, ok := c.GetQuery("exchange")
	if !ok {
		return true
	}
	if _, err := views.ParseExchangeFilter(exchange); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := ts.engine.SetExchangeFilter(c.Request.Context(), exchange); err != nil {
		ts.logger.Warn().Err(err).Str("exchange", exchange).Msg("failed to set exchange filter")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// PostCommand queues an operator command for the bot.
func (ts *TelemetryService) PostCommand(c *gin.Context) {
	var cmd model.BotCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	queued, err := ts.engine.SendCommand(cmd)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, queued)
	case errors.Is(err, engine.ErrInvalidCommand):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrOutboxFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrNoCommandSink):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		ts.logger.Error().Err(err).Msg("failed to queue command")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Stream upgrades to a websocket and pushes the current snapshot followed by every
// published one until the client disconnects or the dispatcher stops.
func (ts *TelemetryService) Stream(c *gin.Context) {
	if !ts.started.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telemetry service not started"})
		return
	}

	sub, err := ts.subscriptionManager.Subscribe()
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, ErrTooManySubscribers) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	defer func() {
		if err := ts.subscriptionManager.Unsubscribe(sub); err != nil {
			ts.logger.Error().Err(err).Msg("failed to unsubscribe")
		}
	}()

	conn, err := ts.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ts.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := ts.logger.With().Str("remote", c.ClientIP()).Logger()
	logger.Info().Msg("new stream subscription")

	// The read side only drains control frames and detects the client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeSnapshot(conn, ts.engine.Snapshot()); err != nil {
		logger.Warn().Err(err).Msg("failed to send snapshot")
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			logger.Info().Msg("stream client disconnected")
			return
		case <-ts.subscriptionManager.Done():
			closeStream(conn, "server shutting down")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case snap, ok := <-sub.C():
			if !ok {
				closeStream(conn, "subscription closed")
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				logger.Warn().Err(err).Msg("failed to send snapshot")
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap *engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteTimeout))
}
