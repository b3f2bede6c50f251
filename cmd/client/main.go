/*
Package main implements a terminal client for the botwatch snapshot stream.

The client connects to the server's /v1/stream websocket and logs the health
line, the newest activity feed entries and the closest triggers of every
snapshot it receives.

Usage:

	go run main.go -addr=localhost:8080 -feed=5 -triggers=3
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"botwatch/internal/engine"
	"botwatch/internal/utils"
	"botwatch/internal/websocket"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var (
	serverAddr   = flag.String("addr", "localhost:8080", "The server address in the format host:port")
	feedLines    = flag.Int("feed", 5, "Number of new feed entries to log per snapshot")
	triggerLines = flag.Int("triggers", 3, "Number of closest triggers to log per snapshot")
)

func main() {
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()

	if err := validateConfig(); err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	endpoint := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/v1/stream"}
	client, err := websocket.NewClient(ctx, websocket.Config[engine.Snapshot]{
		Endpoint:   endpoint.String(),
		BufferSize: 16,
		Handler: func(data []byte, out chan<- engine.Snapshot) error {
			var snap engine.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			out <- snap
			return nil
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("could not subscribe")
	}
	defer client.Close()

	log.Info().Str("endpoint", endpoint.String()).Msg("subscribed to snapshot stream")

	seen := make(map[string]struct{})
	var lastStats string
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-client.ErrChan():
			log.Error().Err(err).Msg("stream error")
		case snap, ok := <-client.Messages:
			if !ok {
				log.Info().Msg("stream has closed")
				return
			}
			logSnapshot(log, snap, seen)
			if stats := strategySummary(snap); stats != lastStats {
				log.Info().Msg("strategies: " + stats)
				lastStats = stats
			}
		}
	}
}

// logSnapshot logs the health line, feed entries not logged before and the
// closest triggers.
func logSnapshot(log zerolog.Logger, snap engine.Snapshot, seen map[string]struct{}) {
	h := snap.Health
	log.Info().
		Uint64("version", snap.Version).
		Bool("connected", h.Connected).
		Bool("stale", h.Stale).
		Str("bot", string(h.BotState)).
		Str("uptime", h.Uptime).
		Str("clock", h.Clock).
		Str("capital", utils.FormatCurrency(h.TotalCapital)).
		Str("today", utils.FormatPnL(snap.TodayPnL)).
		Str("total", utils.FormatPnL(snap.TotalPnL)).
		Msg("status")

	logged := 0
	for _, e := range snap.Feed {
		if logged >= *feedLines {
			break
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		logged++
		log.Info().
			Str("type", string(e.Type)).
			Str("pair", e.Pair).
			Str("exchange", string(e.Exchange)).
			Time("at", e.Timestamp).
			Msgf("%s: %s", e.Title, e.Description)
	}

	for i, tr := range snap.Triggers {
		if i >= *triggerLines {
			break
		}
		log.Info().
			Str("pair", tr.Pair).
			Str("direction", string(tr.Direction)).
			Str("status", string(tr.Status)).
			Float64("distance", tr.DistancePct).
			Msg(tr.NextAction)
	}
}

// strategySummary renders win rate and trade count per strategy.
func strategySummary(snap engine.Snapshot) string {
	parts := make([]string, 0, len(snap.Strategies))
	for _, s := range snap.Strategies {
		parts = append(parts, fmt.Sprintf("%s %s (%d)", s.Strategy, utils.FormatPercentage(s.WinRate), s.TotalTrades))
	}
	return strings.Join(parts, ", ")
}

func validateConfig() error {
	if *serverAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if *feedLines < 0 || *triggerLines < 0 {
		return fmt.Errorf("line counts cannot be negative")
	}
	return nil
}
