package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"botwatch/internal/model"
	"botwatch/internal/websocket"

	json "github.com/goccy/go-json"
)

const (
	defaultChannel         = "alpha-dashboard"
	defaultHeartbeatPeriod = 25 * time.Second

	eventJoin            = "phx_join"
	eventReply           = "phx_reply"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"
	eventSystem          = "system"
	eventError           = "phx_error"
)

// phoenixMessage is the Realtime wire envelope.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type postgresChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []postgresChangeFilter `json:"postgres_changes"`
	} `json:"config"`
}

type changesPayload struct {
	Data Change `json:"data"`
}

// RealtimeURL derives the Realtime websocket endpoint from the project URL.
func RealtimeURL(projectURL, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(projectURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid supabase URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported supabase URL scheme %q", u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// joinMessage subscribes the channel to inserts and updates of the telemetry tables.
func joinMessage(channel string, ref string) ([]byte, error) {
	var p joinPayload
	for _, table := range []string{TableTrades, TableBotStatus, TableStrategyLog} {
		p.Config.PostgresChanges = append(p.Config.PostgresChanges, postgresChangeFilter{
			Event:  "*",
			Schema: "public",
			Table:  table,
		})
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(phoenixMessage{
		Topic:   "realtime:" + channel,
		Event:   eventJoin,
		Payload: payload,
		Ref:     &ref,
	})
}

// Subscribe opens the Realtime websocket and streams table changes as events.
// The channel is closed when the connection drops or ctx is cancelled.
func (s *Supabase) Subscribe(ctx context.Context) (<-chan model.Event, error) {
	endpoint, err := RealtimeURL(s.baseURL, s.apiKey)
	if err != nil {
		return nil, err
	}

	join, err := joinMessage(s.channel, "1")
	if err != nil {
		return nil, fmt.Errorf("build join message: %w", err)
	}

	var ref atomic.Int64
	ref.Store(1)

	client, err := websocket.NewClient(ctx, websocket.Config[model.Event]{
		Endpoint:             endpoint,
		Handler:              s.handleRealtime,
		SubscriptionMessages: [][]byte{join},
		HeartbeatPeriod:      s.heartbeat,
		Heartbeat: func() []byte {
			r := strconv.FormatInt(ref.Add(1), 10)
			msg, _ := json.Marshal(phoenixMessage{
				Topic:   "phoenix",
				Event:   eventHeartbeat,
				Payload: json.RawMessage(`{}`),
				Ref:     &r,
			})
			return msg
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime connect: %w", err)
	}

	s.logger.Info().Str("channel", s.channel).Msg("realtime subscription started")
	return client.Messages, nil
}

// handleRealtime decodes one Realtime frame.
func (s *Supabase) handleRealtime(data []byte, out chan<- model.Event) error {
	var msg phoenixMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode realtime message: %w", err)
	}

	var change Change
	switch msg.Event {
	case eventPostgresChanges:
		var p changesPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode postgres_changes payload: %w", err)
		}
		change = p.Data
	case "INSERT", "UPDATE":
		if err := json.Unmarshal(msg.Payload, &change); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Event, err)
		}
	case eventReply, eventSystem:
		s.logger.Debug().Str("event", msg.Event).Str("topic", msg.Topic).Msg("realtime control message")
		return nil
	case eventError:
		return fmt.Errorf("realtime channel error on %s", msg.Topic)
	default:
		return nil
	}

	ev, ok, err := s.decoder.change(change)
	if err != nil || !ok {
		return err
	}

	select {
	case out <- ev:
	default:
		return fmt.Errorf("event buffer full, dropping %s change", change.Table)
	}
	return nil
}
