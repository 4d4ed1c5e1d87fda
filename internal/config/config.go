// Package config loads the positions configuration file.
//
// A file is YAML decoded over Default() and then validated against the
// embedded CUE schema (config.cue). Unknown keys are rejected.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/positions/internal/feed"
	"github.com/roach88/positions/internal/notify"
	"github.com/roach88/positions/internal/store"
)

//go:embed config.cue
var schemaSource string

// Config is the complete runtime configuration.
type Config struct {
	Feed     FeedConfig     `yaml:"feed" json:"feed"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	History  HistoryConfig  `yaml:"history" json:"history"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	LogLevel string         `yaml:"log_level" json:"log_level"`
}

// FeedConfig configures the remote feed.
type FeedConfig struct {
	URL string `yaml:"url" json:"url"`
	// Timeout bounds a whole fetch. Zero means no client timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DatabaseConfig configures the local store.
type DatabaseConfig struct {
	Path   string `yaml:"path" json:"path"`
	Author string `yaml:"author" json:"author"`
}

// HistoryConfig configures change-log merging.
type HistoryConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
	MergePolicy  string        `yaml:"merge_policy" json:"merge_policy"`
}

// MQTTConfig configures the optional commit-notice bridge.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Broker   string `yaml:"broker" json:"broker"`
	Topic    string `yaml:"topic" json:"topic"`
	ClientID string `yaml:"client_id" json:"client_id"`
	QoS      int    `yaml:"qos" json:"qos"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Feed: FeedConfig{
			URL:     feed.DefaultURL,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:   "positions.db",
			Author: store.DefaultAuthor,
		},
		History: HistoryConfig{
			PollInterval: notify.DefaultPollInterval,
			MergePolicy:  store.MergeIncomingWins.String(),
		},
		MQTT: MQTTConfig{
			Topic: notify.DefaultTopic,
		},
		LogLevel: "info",
	}
}

// Load reads path over Default() and validates the result.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err = Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default() and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the CUE schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("config.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.Encode(cfg)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// MergePolicy returns the parsed merge policy. Validate guarantees it parses.
func (c Config) MergePolicy() store.MergePolicy {
	p, err := store.ParseMergePolicy(c.History.MergePolicy)
	if err != nil {
		return store.MergeIncomingWins
	}
	return p
}

// Level returns the slog level for LogLevel.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
