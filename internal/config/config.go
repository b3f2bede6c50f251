// Package config loads botwatch settings from environment variables, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// SourceKind selects the telemetry transport.
type SourceKind string

const (
	SourceSupabase SourceKind = "supabase"
	SourceKafka    SourceKind = "kafka"
	SourceNone     SourceKind = "none"
)

// Config holds all application configuration.
type Config struct {
	Source   SourceKind
	HTTPAddr string

	Supabase SupabaseConfig
	Kafka    KafkaConfig

	StaleAfter   time.Duration
	FeedCapacity int
	MaxTrades    int
	MaxAnalysis  int

	// CommandRate is the number of operator commands per second sent to the bot.
	CommandRate float64
}

// SupabaseConfig holds the Supabase project settings.
type SupabaseConfig struct {
	URL string
	Key string
}

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	Broker        string
	GroupID       string
	TradesTopic   string
	AnalysisTopic string
	StatusTopic   string
	CommandsTopic string
}

// Brokers splits the comma-separated broker list.
func (k KafkaConfig) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(k.Broker, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Load reads the configuration from the environment. A .env file in the working
// directory is loaded first when present; variables already set win.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	supabase := SupabaseConfig{
		URL: getEnv("SUPABASE_URL", ""),
		Key: getEnv("SUPABASE_KEY", ""),
	}

	// Without Supabase credentials the engine runs empty and disconnected.
	defaultSource := SourceNone
	if supabase.URL != "" && supabase.Key != "" {
		defaultSource = SourceSupabase
	}

	return &Config{
		Source:   SourceKind(strings.ToLower(getEnv("BOTWATCH_SOURCE", string(defaultSource)))),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		Supabase: supabase,
		Kafka: KafkaConfig{
			Broker:        getEnv("KAFKA_BROKER", "localhost:9092"),
			GroupID:       getEnv("KAFKA_GROUP_ID", "botwatch"),
			TradesTopic:   getEnv("KAFKA_TOPIC_TRADES", "bot_trades"),
			AnalysisTopic: getEnv("KAFKA_TOPIC_ANALYSIS", "bot_strategy_log"),
			StatusTopic:   getEnv("KAFKA_TOPIC_STATUS", "bot_status"),
			CommandsTopic: getEnv("KAFKA_TOPIC_COMMANDS", "bot_commands"),
		},
		StaleAfter:   getEnvDuration("STALE_AFTER", 120*time.Second),
		FeedCapacity: getEnvInt("FEED_CAPACITY", 50),
		MaxTrades:    getEnvInt("MAX_TRADES", 0),
		MaxAnalysis:  getEnvInt("MAX_ANALYSIS", 0),
		CommandRate:  getEnvFloat("COMMAND_RATE", 1),
	}
}

// Validate checks the settings required by the selected source.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: HTTP address cannot be empty", ErrInvalidConfig)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("%w: STALE_AFTER must be positive", ErrInvalidConfig)
	}
	if c.FeedCapacity <= 0 {
		return fmt.Errorf("%w: FEED_CAPACITY must be positive", ErrInvalidConfig)
	}
	if c.MaxTrades < 0 || c.MaxAnalysis < 0 {
		return fmt.Errorf("%w: MAX_TRADES and MAX_ANALYSIS cannot be negative", ErrInvalidConfig)
	}
	if c.CommandRate <= 0 {
		return fmt.Errorf("%w: COMMAND_RATE must be positive", ErrInvalidConfig)
	}

	switch c.Source {
	case SourceSupabase:
		if c.Supabase.URL == "" || c.Supabase.Key == "" {
			return fmt.Errorf("%w: SUPABASE_URL and SUPABASE_KEY are required", ErrInvalidConfig)
		}
	case SourceKafka:
		if len(c.Kafka.Brokers()) == 0 {
			return fmt.Errorf("%w: KAFKA_BROKER is required", ErrInvalidConfig)
		}
		if c.Kafka.TradesTopic == "" || c.Kafka.AnalysisTopic == "" || c.Kafka.StatusTopic == "" {
			return fmt.Errorf("%w: kafka stream topics cannot be empty", ErrInvalidConfig)
		}
	case SourceNone:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, c.Source)
	}
	return nil
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("invalid integer, using default")
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("invalid number, using default")
		return defaultValue
	}
	return value
}

// getEnvDuration accepts Go durations ("90s", "2m") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn().Str("key", key).Str("value", valueStr).Msg("invalid duration, using default")
	return defaultValue
}
