package config

import "time"

type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Web    WebConfig    `yaml:"web"`
	Image  ImageConfig  `yaml:"image"`
	Chart  ChartConfig  `yaml:"chart"`
	Store  StoreConfig  `yaml:"store"`
}

type ServerConfig struct {
	IP    string     `yaml:"ip"`
	Port  int        `yaml:"port"`
	Token string     `yaml:"token"`
	Auth  AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
	// SlowSpan is the duration above which operations are logged as slow.
	SlowSpan time.Duration `yaml:"slow_span"`
}

type WebConfig struct {
	StaticDir string `yaml:"static_dir"`
	// AllowedOrigins feeds CORS and the websocket origin check. "*" allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ImageConfig bounds what the ingest pipeline accepts before any pixel is scanned.
type ImageConfig struct {
	Security     SecurityConfig `yaml:"security"`
	FetchTimeout time.Duration  `yaml:"fetch_timeout"`
	UserAgent    string         `yaml:"user_agent"`
	// AllowPrivateFetch lets URL checks reach loopback and private networks.
	AllowPrivateFetch bool `yaml:"allow_private_fetch"`
}

type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`
	MaxPixels      int64    `yaml:"max_pixels"`
	MaxWidth       int      `yaml:"max_width"`
	MaxHeight      int      `yaml:"max_height"`
	AllowedFormats []string `yaml:"allowed_formats"`
	EnableDeepScan bool     `yaml:"enable_deep_scan"`
}

type ChartConfig struct {
	BatchConcurrency int `yaml:"batch_concurrency"`
	MaxBatchFiles    int `yaml:"max_batch_files"`
	// RejectMessage and DecodeFailureMessage are shown to end users.
	RejectMessage        string `yaml:"reject_message"`
	DecodeFailureMessage string `yaml:"decode_failure_message"`
}

type StoreConfig struct {
	Driver   string              `yaml:"driver"`
	TTL      time.Duration       `yaml:"ttl"`
	Cleanup  time.Duration       `yaml:"cleanup"`
	SQLite   SQLiteStoreConfig   `yaml:"sqlite"`
	Redis    RedisStoreConfig    `yaml:"redis"`
	Postgres PostgresStoreConfig `yaml:"postgres"`
}

type SQLiteStoreConfig struct {
	Path string `yaml:"path"`
}

type RedisStoreConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type PostgresStoreConfig struct {
	DSN string `yaml:"dsn"`
}
