// Package config loads process configuration once at startup.
//
// Precedence, lowest first: built-in defaults, an optional YAML file
// (CADENCE_CONFIG or ./config.yaml), then CADENCE_* environment variables.
// Nested keys use a double underscore: CADENCE_STREAM__POLL_TIMEOUT=5s.
package config

import (
	"time"
)

// Config is the full process configuration. It is read-only after Load.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	HTTP      HTTPConfig      `koanf:"http"`
	Switch    SwitchConfig    `koanf:"switch"`
	Session   SessionConfig   `koanf:"session"`
	Profile   ProfileConfig   `koanf:"profile"`
	Recommend RecommendConfig `koanf:"recommend"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Archive   ArchiveConfig   `koanf:"archive"`
	Storage   StorageConfig   `koanf:"storage"`
	Stream    StreamConfig    `koanf:"stream"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Database  DatabaseConfig  `koanf:"database"`
	Spotify   SpotifyConfig   `koanf:"spotify"`
	Sensor    SensorConfig    `koanf:"sensor"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// SwitchConfig controls the debounce between track switches.
type SwitchConfig struct {
	MinTrackDuration time.Duration `koanf:"min_track_duration" validate:"gte=0"`
}

type SessionConfig struct {
	// HistorySize is the number of samples kept per user (N).
	HistorySize int `koanf:"history_size" validate:"min=1"`
}

// ProfileConfig supplies bounds for users without a stored profile.
type ProfileConfig struct {
	DefaultRestHR int    `koanf:"default_rest_hr" validate:"min=0"`
	DefaultMaxHR  int    `koanf:"default_max_hr" validate:"min=1"`
	DefaultUserID string `koanf:"default_user_id" validate:"required"`
}

type RecommendConfig struct {
	Strategy string `koanf:"strategy" validate:"oneof=scored explore auto"`
}

// TelemetryConfig drives the ingestion daemon's queue and forwarder.
type TelemetryConfig struct {
	QueueCapacity int           `koanf:"queue_capacity" validate:"min=1"`
	PostURL       string        `koanf:"post_url" validate:"omitempty,url"`
	PostTimeout   time.Duration `koanf:"post_timeout" validate:"gt=0"`
	SessionID     string        `koanf:"session_id"`
}

type ArchiveConfig struct {
	Enabled              bool          `koanf:"enabled"`
	BatchSize            int           `koanf:"batch_size" validate:"min=1"`
	FlushInterval        time.Duration `koanf:"flush_interval" validate:"gt=0"`
	TelemetryPrefix      string        `koanf:"telemetry_prefix" validate:"required"`
	RecommendationPrefix string        `koanf:"recommendation_prefix" validate:"required"`
	FeedbackPrefix       string        `koanf:"feedback_prefix" validate:"required"`
}

// StorageConfig points at an S3-compatible object store.
type StorageConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Endpoint  string        `koanf:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string        `koanf:"access_key"`
	SecretKey string        `koanf:"secret_key"`
	Bucket    string        `koanf:"bucket" validate:"required"`
	Secure    bool          `koanf:"secure"`
	TracksKey string        `koanf:"tracks_key"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
}

// StreamConfig configures the durable stream and its consumer group.
type StreamConfig struct {
	Enabled     bool          `koanf:"enabled"`
	URL         string        `koanf:"url"`
	Name        string        `koanf:"name" validate:"required"`
	Subject     string        `koanf:"subject" validate:"required"`
	Group       string        `koanf:"group" validate:"required"`
	Consumer    string        `koanf:"consumer"`
	Batch       int           `koanf:"batch" validate:"min=1"`
	PollTimeout time.Duration `koanf:"poll_timeout" validate:"gt=0"`
	Backoff     time.Duration `koanf:"backoff" validate:"gt=0"`
	AckWait     time.Duration `koanf:"ack_wait" validate:"gt=0"`
	Embedded    bool          `koanf:"embedded"`
	StoreDir    string        `koanf:"store_dir"`
}

type CatalogConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// SpotifyConfig holds the server-side credentials used to mint access tokens.
type SpotifyConfig struct {
	ClientID     string   `koanf:"client_id"`
	ClientSecret string   `koanf:"client_secret"`
	RefreshToken string   `koanf:"refresh_token"`
	TokenURL     string   `koanf:"token_url" validate:"required,url"`
	Scopes       []string `koanf:"scopes"`
}

// Enabled reports whether enough credentials are present to mint tokens.
func (s SpotifyConfig) Enabled() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.RefreshToken != ""
}

// SensorConfig names the serial bridge carrying HR measurement notifications.
type SensorConfig struct {
	Port     string `koanf:"port"`
	BaudRate int    `koanf:"baud_rate" validate:"min=1"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:       LogConfig{Level: "info", Format: "json"},
		HTTP:      HTTPConfig{Addr: ":5001", ShutdownTimeout: 5 * time.Second},
		Switch:    SwitchConfig{MinTrackDuration: 30 * time.Second},
		Session:   SessionConfig{HistorySize: 60},
		Profile:   ProfileConfig{DefaultRestHR: 60, DefaultMaxHR: 190, DefaultUserID: "demo-user"},
		Recommend: RecommendConfig{Strategy: "scored"},
		Telemetry: TelemetryConfig{
			QueueCapacity: 4096,
			PostURL:       "http://localhost:5001/telemetry",
			PostTimeout:   4 * time.Second,
		},
		Archive: ArchiveConfig{
			BatchSize:            25,
			FlushInterval:        10 * time.Second,
			TelemetryPrefix:      "raw-telemetry",
			RecommendationPrefix: "recommendations",
			FeedbackPrefix:       "feedback",
		},
		Storage: StorageConfig{
			Bucket:    "dsc-artifacts",
			TracksKey: "seed-data/data.csv",
			Timeout:   10 * time.Second,
		},
		Stream: StreamConfig{
			URL:         "nats://127.0.0.1:4222",
			Name:        "TELEMETRY",
			Subject:     "telemetry.hr",
			Group:       "backend",
			Batch:       10,
			PollTimeout: 2 * time.Second,
			Backoff:     time.Second,
			AckWait:     30 * time.Second,
		},
		Catalog:  CatalogConfig{Path: "data/data.csv"},
		Database: DatabaseConfig{Path: "data/app.db"},
		Spotify: SpotifyConfig{
			TokenURL: "https://accounts.spotify.com/api/token",
			Scopes:   []string{"streaming", "user-read-email", "user-read-private", "user-modify-playback-state"},
		},
		Sensor: SensorConfig{BaudRate: 115200},
	}
}
