package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the game server listens on.
	DefaultAddr = ":8080"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 256
	// DefaultSessionQueueDepth bounds each session's outbound message queue. A
	// session whose queue overflows is disconnected rather than allowed to
	// stall the tick driver.
	DefaultSessionQueueDepth = 256

	// DefaultLogLevel controls verbosity for game server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "gameserver.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultJournalRetention controls how long journal run directories are kept.
	DefaultJournalRetention = 24 * time.Hour
)

// Config captures all runtime tunables for the game server process.
type Config struct {
	Address           string
	AllowedOrigins    []string
	MaxPayloadBytes   int64
	PingInterval      time.Duration
	MaxClients        int
	SessionQueueDepth int
	AuthSecret        string
	JournalDir        string
	JournalRetention  time.Duration
	RosterDBPath      string
	TuningPath        string
	Logging           LoggingConfig
	Tuning            Tuning
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the server configuration from environment variables, applying sane defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:           getString("GAMESERVER_ADDR", DefaultAddr),
		AllowedOrigins:    parseList(os.Getenv("GAMESERVER_ALLOWED_ORIGINS")),
		MaxPayloadBytes:   DefaultMaxPayloadBytes,
		PingInterval:      DefaultPingInterval,
		MaxClients:        DefaultMaxClients,
		SessionQueueDepth: DefaultSessionQueueDepth,
		AuthSecret:        strings.TrimSpace(os.Getenv("GAMESERVER_AUTH_SECRET")),
		JournalDir:        strings.TrimSpace(os.Getenv("GAMESERVER_JOURNAL_DIR")),
		JournalRetention:  DefaultJournalRetention,
		RosterDBPath:      strings.TrimSpace(os.Getenv("GAMESERVER_ROSTER_DB")),
		TuningPath:        strings.TrimSpace(os.Getenv("GAMESERVER_TUNING")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("GAMESERVER_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("GAMESERVER_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		Tuning: DefaultTuning(),
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_SESSION_QUEUE_DEPTH")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_SESSION_QUEUE_DEPTH must be a positive integer, got %q", raw))
		} else {
			cfg.SessionQueueDepth = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_JOURNAL_RETENTION")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_JOURNAL_RETENTION must be a positive duration, got %q", raw))
		} else {
			cfg.JournalRetention = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("GAMESERVER_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if cfg.TuningPath != "" {
		tuning, err := LoadTuning(cfg.TuningPath)
		if err != nil {
			problems = append(problems, fmt.Sprintf("GAMESERVER_TUNING: %v", err))
		} else {
			cfg.Tuning = tuning
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
