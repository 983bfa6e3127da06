package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the enhancement service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	MaxConcurrency  int
	PollInterval    time.Duration
	RetentionMaxAge time.Duration
	SweepInterval   time.Duration

	FFmpegPath     string
	FFprobePath    string
	RealesrganPath string
	Video2xPath    string

	InboxDir    string
	MediaDir    string
	MinFreeDisk int64

	TelegramBotToken string
	TelegramAPIBase  string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "enhancerd"),
		ShutdownTimeout:  15 * time.Second,
		MaxConcurrency:   3,
		PollInterval:     time.Second,
		RetentionMaxAge:  7 * 24 * time.Hour,
		SweepInterval:    24 * time.Hour,
		FFmpegPath:       envOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:      envOrDefault("FFPROBE_PATH", "ffprobe"),
		RealesrganPath:   envOrDefault("REALESRGAN_PATH", "realesrgan-ncnn-vulkan"),
		Video2xPath:      envOrDefault("VIDEO2X_PATH", "video2x"),
		InboxDir:         envOrDefault("APP_INBOX_DIR", "data/inbox"),
		MediaDir:         envOrDefault("APP_MEDIA_DIR", "data/media"),
		MinFreeDisk:      500 << 20,
		TelegramBotToken: trimmedEnv("TELEGRAM_BOT_TOKEN"),
		TelegramAPIBase:  envOrDefault("TELEGRAM_API_BASE", "https://api.telegram.org"),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrency, err = intFromEnv("QUEUE_MAX_CONCURRENCY", cfg.MaxConcurrency)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval, err = durationFromEnv("QUEUE_POLL_INTERVAL", cfg.PollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.RetentionMaxAge, err = durationFromEnv("QUEUE_RETENTION_MAX_AGE", cfg.RetentionMaxAge)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepInterval, err = durationFromEnv("QUEUE_SWEEP_INTERVAL", cfg.SweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MinFreeDisk, err = int64FromEnv("APP_MIN_FREE_DISK_BYTES", cfg.MinFreeDisk)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxConcurrency < 1 {
		return Config{}, fmt.Errorf("QUEUE_MAX_CONCURRENCY must be at least 1")
	}
	if cfg.PollInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("QUEUE_POLL_INTERVAL must be at least 100ms")
	}
	if cfg.RetentionMaxAge <= 0 {
		return Config{}, fmt.Errorf("QUEUE_RETENTION_MAX_AGE must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("QUEUE_SWEEP_INTERVAL must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
