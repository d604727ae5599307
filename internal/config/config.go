package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable the service reads
const EnvPrefix = "CLASSHUB_"

// Store drivers selectable through database.driver
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Object storage providers selectable through storage.provider
const (
	ProviderLocal      = "local"
	ProviderCloudinary = "cloudinary"
)

// Config is the full service configuration. Defaults live in the envDefault
// tags so DefaultConfig and Load agree.
type Config struct {
	ConfigFile string `env:"CONFIG_FILE"`

	Database  DatabaseConfig  `envPrefix:"DATABASE_"`
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	WebSocket WebSocketConfig `envPrefix:"WEBSOCKET_"`
	Realtime  RealtimeConfig  `envPrefix:"REALTIME_"`
	Hub       HubConfig       `envPrefix:"HUB_"`
	Storage   StorageConfig   `envPrefix:"STORAGE_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Log       LogConfig       `envPrefix:"LOG_"`
}

// DatabaseConfig selects and tunes the persistence backend
type DatabaseConfig struct {
	Driver         string        `env:"DRIVER" envDefault:"sqlite3"`
	DSN            string        `env:"DSN" envDefault:"./data/classhub.db"`
	MongoDatabase  string        `env:"MONGO_DATABASE" envDefault:"classhub"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"10"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

type HTTPConfig struct {
	Host           string        `env:"HOST" envDefault:"0.0.0.0"`
	Port           int           `env:"PORT" envDefault:"8080"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"90s"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// WebSocketConfig tunes the realtime transport heartbeat
type WebSocketConfig struct {
	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"30s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	BufferSize   int           `env:"BUFFER_SIZE" envDefault:"256"`
}

// RealtimeConfig holds chat behaviour switches
type RealtimeConfig struct {
	// VerifyMembership rejects joinRoom for non-members when set
	VerifyMembership      bool `env:"VERIFY_MEMBERSHIP" envDefault:"false"`
	BroadcastFileDeposits bool `env:"BROADCAST_FILE_DEPOSITS" envDefault:"false"`
	// HistoryLimit caps the history frame sent on join; 0 sends everything
	HistoryLimit      int `env:"HISTORY_LIMIT" envDefault:"0"`
	MessagesPerMinute int `env:"MESSAGES_PER_MINUTE" envDefault:"100"`
}

// HubConfig tunes the per-classroom serialization lanes
type HubConfig struct {
	LaneIdleTimeout time.Duration `env:"LANE_IDLE_TIMEOUT" envDefault:"1m"`
	LaneQueueSize   int           `env:"LANE_QUEUE_SIZE" envDefault:"64"`
}

// StorageConfig selects the object store used for deposits and attachments
type StorageConfig struct {
	Provider      string        `env:"PROVIDER" envDefault:"local"`
	MaxFileSize   int64         `env:"MAX_FILE_SIZE" envDefault:"10485760"`
	UploadTimeout time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"60s"`
	RootFolder    string        `env:"ROOT_FOLDER" envDefault:"classhub"`

	LocalDir     string `env:"LOCAL_DIR" envDefault:"./data/uploads"`
	LocalBaseURL string `env:"LOCAL_BASE_URL" envDefault:"/uploads"`

	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`
}

// AuthConfig configures the cookie session store
type AuthConfig struct {
	SessionKey    string        `env:"SESSION_KEY" envDefault:"classhub-development-session-key"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"168h"`
	SecureCookie  bool          `env:"SECURE_COOKIE" envDefault:"false"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// DefaultConfig returns the configuration with every default applied and no
// environment consulted
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("config defaults are invalid: %v", err))
	}
	return cfg
}

// Load builds the configuration. Precedence from lowest to highest:
// defaults, .env file, process environment, JSON config file.
// An explicit path overrides CLASSHUB_CONFIG_FILE.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = cfg.ConfigFile
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv parses CLASSHUB_ environment variables over the defaults
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" && c.Database.Driver != DriverMemory {
		return fmt.Errorf("database dsn cannot be empty")
	}
	if c.Database.Driver == DriverMongo && c.Database.MongoDatabase == "" {
		return fmt.Errorf("mongo database name cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Realtime.HistoryLimit < 0 {
		return fmt.Errorf("history limit cannot be negative")
	}
	if c.Realtime.MessagesPerMinute <= 0 {
		return fmt.Errorf("messages per minute must be positive")
	}

	if c.Hub.LaneIdleTimeout <= 0 {
		return fmt.Errorf("hub lane idle timeout must be positive")
	}
	if c.Hub.LaneQueueSize <= 0 {
		return fmt.Errorf("hub lane queue size must be positive")
	}

	switch c.Storage.Provider {
	case ProviderLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("local storage directory cannot be empty")
		}
	case ProviderCloudinary:
		if c.Storage.CloudinaryCloudName == "" || c.Storage.CloudinaryAPIKey == "" || c.Storage.CloudinaryAPISecret == "" {
			return fmt.Errorf("cloudinary storage requires cloud name, api key and api secret")
		}
	default:
		return fmt.Errorf("unsupported storage provider %q", c.Storage.Provider)
	}
	if c.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("storage max file size must be positive")
	}
	if c.Storage.UploadTimeout <= 0 {
		return fmt.Errorf("storage upload timeout must be positive")
	}

	if len(c.Auth.SessionKey) < 32 {
		return fmt.Errorf("auth session key must be at least 32 bytes")
	}
	if c.Auth.SessionMaxAge <= 0 {
		return fmt.Errorf("auth session max age must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Log.Level)
	}

	return nil
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// fileConfig mirrors Config for JSON files. Durations are strings such as
// "30s"; absent keys leave the current value untouched.
type fileConfig struct {
	Database *struct {
		Driver         *string `json:"driver"`
		DSN            *string `json:"dsn"`
		MongoDatabase  *string `json:"mongo_database"`
		MaxConnections *int    `json:"max_connections"`
		Timeout        *string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Host           *string  `json:"host"`
		Port           *int     `json:"port"`
		ReadTimeout    *string  `json:"read_timeout"`
		WriteTimeout   *string  `json:"write_timeout"`
		AllowedOrigins []string `json:"allowed_origins"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval *string `json:"ping_interval"`
		ReadTimeout  *string `json:"read_timeout"`
		WriteTimeout *string `json:"write_timeout"`
		BufferSize   *int    `json:"buffer_size"`
	} `json:"websocket"`
	Realtime *struct {
		VerifyMembership      *bool `json:"verify_membership"`
		BroadcastFileDeposits *bool `json:"broadcast_file_deposits"`
		HistoryLimit          *int  `json:"history_limit"`
		MessagesPerMinute     *int  `json:"messages_per_minute"`
	} `json:"realtime"`
	Hub *struct {
		LaneIdleTimeout *string `json:"lane_idle_timeout"`
		LaneQueueSize   *int    `json:"lane_queue_size"`
	} `json:"hub"`
	Storage *struct {
		Provider            *string `json:"provider"`
		MaxFileSize         *int64  `json:"max_file_size"`
		UploadTimeout       *string `json:"upload_timeout"`
		RootFolder          *string `json:"root_folder"`
		LocalDir            *string `json:"local_dir"`
		LocalBaseURL        *string `json:"local_base_url"`
		CloudinaryCloudName *string `json:"cloudinary_cloud_name"`
		CloudinaryAPIKey    *string `json:"cloudinary_api_key"`
		CloudinaryAPISecret *string `json:"cloudinary_api_secret"`
	} `json:"storage"`
	Auth *struct {
		SessionKey    *string `json:"session_key"`
		SessionMaxAge *string `json:"session_max_age"`
		SecureCookie  *bool   `json:"secure_cookie"`
	} `json:"auth"`
	Log *struct {
		Level  *string `json:"level"`
		Format *string `json:"format"`
	} `json:"log"`
}

// applyFile overlays a JSON config file onto c
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	dur := func(dst *time.Duration, src *string, key string) {
		if src == nil {
			return
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}

	if d := fc.Database; d != nil {
		set(&c.Database.Driver, d.Driver)
		set(&c.Database.DSN, d.DSN)
		set(&c.Database.MongoDatabase, d.MongoDatabase)
		set(&c.Database.MaxConnections, d.MaxConnections)
		dur(&c.Database.Timeout, d.Timeout, "database.timeout")
	}
	if h := fc.HTTP; h != nil {
		set(&c.HTTP.Host, h.Host)
		set(&c.HTTP.Port, h.Port)
		dur(&c.HTTP.ReadTimeout, h.ReadTimeout, "http.read_timeout")
		dur(&c.HTTP.WriteTimeout, h.WriteTimeout, "http.write_timeout")
		if h.AllowedOrigins != nil {
			c.HTTP.AllowedOrigins = h.AllowedOrigins
		}
	}
	if w := fc.WebSocket; w != nil {
		dur(&c.WebSocket.PingInterval, w.PingInterval, "websocket.ping_interval")
		dur(&c.WebSocket.ReadTimeout, w.ReadTimeout, "websocket.read_timeout")
		dur(&c.WebSocket.WriteTimeout, w.WriteTimeout, "websocket.write_timeout")
		set(&c.WebSocket.BufferSize, w.BufferSize)
	}
	if r := fc.Realtime; r != nil {
		set(&c.Realtime.VerifyMembership, r.VerifyMembership)
		set(&c.Realtime.BroadcastFileDeposits, r.BroadcastFileDeposits)
		set(&c.Realtime.HistoryLimit, r.HistoryLimit)
		set(&c.Realtime.MessagesPerMinute, r.MessagesPerMinute)
	}
	if h := fc.Hub; h != nil {
		dur(&c.Hub.LaneIdleTimeout, h.LaneIdleTimeout, "hub.lane_idle_timeout")
		set(&c.Hub.LaneQueueSize, h.LaneQueueSize)
	}
	if s := fc.Storage; s != nil {
		set(&c.Storage.Provider, s.Provider)
		set(&c.Storage.MaxFileSize, s.MaxFileSize)
		dur(&c.Storage.UploadTimeout, s.UploadTimeout, "storage.upload_timeout")
		set(&c.Storage.RootFolder, s.RootFolder)
		set(&c.Storage.LocalDir, s.LocalDir)
		set(&c.Storage.LocalBaseURL, s.LocalBaseURL)
		set(&c.Storage.CloudinaryCloudName, s.CloudinaryCloudName)
		set(&c.Storage.CloudinaryAPIKey, s.CloudinaryAPIKey)
		set(&c.Storage.CloudinaryAPISecret, s.CloudinaryAPISecret)
	}
	if a := fc.Auth; a != nil {
		set(&c.Auth.SessionKey, a.SessionKey)
		dur(&c.Auth.SessionMaxAge, a.SessionMaxAge, "auth.session_max_age")
		set(&c.Auth.SecureCookie, a.SecureCookie)
	}
	if l := fc.Log; l != nil {
		set(&c.Log.Level, l.Level)
		set(&c.Log.Format, l.Format)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid durations in config file %s: %w", path, err)
	}
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
