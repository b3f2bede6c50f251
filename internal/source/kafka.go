package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"botwatch/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka source. One topic per stream carries Change
// envelopes; the commands topic receives operator commands.
type KafkaConfig struct {
	Brokers       []string
	GroupID       string
	TradesTopic   string
	AnalysisTopic string
	StatusTopic   string
	CommandsTopic string
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka consumes change envelopes from Kafka topics.
//
// Kafka offers no query API, so Backfill always returns an empty slice; history is
// replayed by the consumer group offsets instead.
type Kafka struct {
	cfg       KafkaConfig
	newReader func(topic string) messageReader
	writer    messageWriter
	decoder   *decoder
	logger    zerolog.Logger
}

// NewKafka validates cfg and returns a Kafka source.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.TradesTopic == "" || cfg.AnalysisTopic == "" || cfg.StatusTopic == "" {
		return nil, errors.New("trades, analysis and status topics are required")
	}

	k := &Kafka{
		cfg:     cfg,
		decoder: newDecoder(),
		logger:  log.With().Str("component", "kafka").Logger(),
	}
	k.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          topic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		})
	}
	if cfg.CommandsTopic != "" {
		k.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.CommandsTopic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return k, nil
}

// topics maps each consumed topic to the table its envelopes default to.
func (k *Kafka) topics() map[string]string {
	return map[string]string{
		k.cfg.TradesTopic:   TableTrades,
		k.cfg.AnalysisTopic: TableStrategyLog,
		k.cfg.StatusTopic:   TableBotStatus,
	}
}

// Backfill returns an empty slice.
func (k *Kafka) Backfill(ctx context.Context, stream model.Stream, limit int) ([]model.Event, error) {
	if _, err := TableFor(stream); err != nil {
		return nil, err
	}
	return []model.Event{}, nil
}

// Subscribe starts one reader per topic and merges their events. The channel is
// closed once every reader has stopped.
func (k *Kafka) Subscribe(ctx context.Context) (<-chan model.Event, error) {
	out := make(chan model.Event, 1000)
	var wg sync.WaitGroup

	for topic, table := range k.topics() {
		reader := k.newReader(topic)
		wg.Add(1)
		go func(topic, table string, reader messageReader) {
			defer wg.Done()
			defer func() {
				if err := reader.Close(); err != nil {
					k.logger.Warn().Err(err).Str("topic", topic).Msg("error closing reader")
				}
			}()
			k.consume(ctx, topic, table, reader, out)
		}(topic, table, reader)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	k.logger.Info().Strs("brokers", k.cfg.Brokers).Str("groupID", k.cfg.GroupID).Msg("kafka subscription started")
	return out, nil
}

func (k *Kafka) consume(ctx context.Context, topic, table string, reader messageReader, out chan<- model.Event) {
	logger := k.logger.With().Str("topic", topic).Logger()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Error().Err(err).Msg("error fetching message")
			return
		}

		ev, ok, err := k.decode(m.Value, table)
		if err != nil {
			logger.Warn().Err(err).Int64("offset", m.Offset).Msg("skipping malformed message")
		} else if ok {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Int64("offset", m.Offset).Msg("commit failed")
		}
	}
}

// decode parses a Change envelope. A missing table defaults to the topic's table.
func (k *Kafka) decode(value []byte, table string) (model.Event, bool, error) {
	var c Change
	if err := json.Unmarshal(value, &c); err != nil {
		return model.Event{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	if c.Table == "" {
		c.Table = table
	}
	return k.decoder.change(c)
}

// SendCommand publishes cmd to the commands topic.
func (k *Kafka) SendCommand(ctx context.Context, cmd model.BotCommand) error {
	if k.writer == nil {
		return errors.New("no commands topic configured")
	}

	value, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(cmd.Command), Value: value}); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// Close releases the command writer.
func (k *Kafka) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
