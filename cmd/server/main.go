/*
Package main runs the botwatch telemetry server.

The server backfills the bot's trades, strategy analysis and status snapshots from
the configured source (Supabase or Kafka), follows their live changes, and serves
the derived dashboard views over HTTP with a websocket stream of every published
snapshot. Operator commands posted to the API are forwarded back to the bot.

Usage:

	go run main.go -addr=:8080 -source=supabase

Flags override the corresponding environment variables (see internal/config).
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botwatch/internal/config"
	"botwatch/internal/engine"
	"botwatch/internal/service"
	"botwatch/internal/source"
	"botwatch/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// addr overrides HTTP_ADDR
	addr = flag.String("addr", "", "HTTP listen address, e.g. :8080")
	// sourceKind overrides BOTWATCH_SOURCE
	sourceKind = flag.String("source", "", "Telemetry source: supabase, kafka or none")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *sourceKind != "" {
		cfg.Source = config.SourceKind(*sourceKind)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, sink, closeSource, err := newSource(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create telemetry source")
	}
	defer closeSource()

	eng := engine.New(engine.Config{
		Store:        store.Config{MaxTrades: cfg.MaxTrades, MaxAnalysis: cfg.MaxAnalysis},
		FeedCapacity: cfg.FeedCapacity,
		StaleAfter:   cfg.StaleAfter,
		Outbox:       engine.OutboxConfig{Rate: cfg.CommandRate},
	}, src, sink)

	telemetry := service.NewTelemetryService(eng, service.NewDispatcher(service.DispatcherConfig{MaxSubscribers: 100}))
	if err := telemetry.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start telemetry service")
	}
	defer telemetry.Stop()

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}
	defer eng.Stop()

	if !*debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           service.NewRouter(telemetry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("initiating graceful shutdown")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("source", string(cfg.Source)).
		Dur("staleAfter", cfg.StaleAfter).
		Msg("server starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("failed to serve")
	}
}

// newSource builds the configured transport. With SourceNone both the source and
// the sink are nil and the engine runs empty and disconnected.
func newSource(cfg *config.Config) (engine.Source, engine.CommandSink, func(), error) {
	switch cfg.Source {
	case config.SourceSupabase:
		s, err := source.NewSupabase(source.SupabaseConfig{URL: cfg.Supabase.URL, APIKey: cfg.Supabase.Key})
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, func() {}, nil

	case config.SourceKafka:
		k, err := source.NewKafka(source.KafkaConfig{
			Brokers:       cfg.Kafka.Brokers(),
			GroupID:       cfg.Kafka.GroupID,
			TradesTopic:   cfg.Kafka.TradesTopic,
			AnalysisTopic: cfg.Kafka.AnalysisTopic,
			StatusTopic:   cfg.Kafka.StatusTopic,
			CommandsTopic: cfg.Kafka.CommandsTopic,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return k, k, func() {
			if err := k.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close kafka writer")
			}
		}, nil
	}

	log.Warn().Msg("no telemetry source configured, running empty")
	return nil, nil, func() {}, nil
}
