package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"botwatch/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultHTTPTimeout = 30 * time.Second

// SupabaseConfig configures the Supabase source.
type SupabaseConfig struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client

	// Channel is the realtime channel name joined for the three tables.
	Channel string

	// HeartbeatPeriod is the interval of the realtime phoenix heartbeat.
	HeartbeatPeriod time.Duration
}

// Supabase reads telemetry through the PostgREST API and the Realtime websocket,
// and writes commands to the bot_commands table.
type Supabase struct {
	baseURL    string
	apiKey     string
	channel    string
	heartbeat  time.Duration
	httpClient *http.Client
	decoder    *decoder
	logger     zerolog.Logger
}

// NewSupabase validates cfg and returns a Supabase source.
func NewSupabase(cfg SupabaseConfig) (*Supabase, error) {
	if cfg.URL == "" {
		return nil, errors.New("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("supabase API key is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid supabase URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultChannel
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = defaultHeartbeatPeriod
	}

	return &Supabase{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		channel:    cfg.Channel,
		heartbeat:  cfg.HeartbeatPeriod,
		httpClient: httpClient,
		decoder:    newDecoder(),
		logger:     log.With().Str("component", "supabase").Logger(),
	}, nil
}

// Backfill fetches the most recent rows of stream ordered by timestamp descending.
func (s *Supabase) Backfill(ctx context.Context, stream model.Stream, limit int) ([]model.Event, error) {
	table, err := TableFor(stream)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("select", "*")
	params.Set("order", "timestamp.desc")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	reqURL := fmt.Sprintf("%s/rest/v1/%s?%s", s.baseURL, table, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req)

	body, err := s.do(req)
	if err != nil {
		return nil, fmt.Errorf("backfill %s: %w", table, err)
	}

	events, err := s.decoder.rows(stream, body, func(err error) {
		s.logger.Warn().Err(err).Str("table", table).Msg("skipping malformed row")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("table", table).Int("rows", len(events)).Msg("backfill fetched")
	return events, nil
}

// SendCommand inserts cmd into the bot_commands table.
func (s *Supabase) SendCommand(ctx context.Context, cmd model.BotCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	reqURL := fmt.Sprintf("%s/rest/v1/%s", s.baseURL, TableBotCommands)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	if _, err := s.do(req); err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

func (s *Supabase) setHeaders(req *http.Request) {
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")
}

func (s *Supabase) do(req *http.Request) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("supabase returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
