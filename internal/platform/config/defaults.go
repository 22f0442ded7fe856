package config

import "time"

const (
	DefaultRejectMessage        = "This image does not look like a valid trading chart. Please upload a screenshot of a candlestick chart."
	DefaultDecodeFailureMessage = "The image could not be loaded. Please try again."
)

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8080,
			Auth: AuthConfig{
				Enabled:  false,
				TokenTTL: 24 * time.Hour,
			},
		},
		Log: LogConfig{
			Level:    "info",
			Dir:      "data/logs",
			File:     "server.log",
			SlowSpan: 2 * time.Second,
		},
		Web: WebConfig{
			StaticDir:      "./web",
			AllowedOrigins: []string{"*"},
		},
		Image: ImageConfig{
			Security: SecurityConfig{
				MaxFileSize:    10 * 1024 * 1024,
				MaxPixels:      16777216,
				MaxWidth:       8192,
				MaxHeight:      8192,
				AllowedFormats: []string{"jpeg", "jpg", "png", "webp", "gif", "bmp", "tiff"},
				EnableDeepScan: true,
			},
			FetchTimeout: 10 * time.Second,
			UserAgent:    "chartlens/1.0",
		},
		Chart: ChartConfig{
			BatchConcurrency:     4,
			MaxBatchFiles:        16,
			RejectMessage:        DefaultRejectMessage,
			DecodeFailureMessage: DefaultDecodeFailureMessage,
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			TTL:     24 * time.Hour,
			Cleanup: 10 * time.Minute,
			SQLite: SQLiteStoreConfig{
				Path: "data/chartlens.db",
			},
			Redis: RedisStoreConfig{
				Prefix: "chartlens:verdict:",
			},
		},
	}
}
