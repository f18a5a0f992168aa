package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the immutable, process-wide configuration for both the bot
// process and the worker process. It is built once by Load at startup and
// threaded explicitly into every collaborator's constructor; nothing in the
// tree re-reads the environment after boot.
type Config struct {
	// Telegram bot transport (C5's inline path).
	BotToken string

	// Curator/admin whitelists. CuratorIDs is the set of chat user ids
	// allowed to submit media at all; AdminIDs is the subset additionally
	// allowed to issue retry/cancel/db_maint.
	CuratorIDs map[int64]struct{}
	AdminIDs   map[int64]struct{}

	// User-protocol transport (C8's worker path). AuthFlow (code/password
	// entry) is out of scope; the session file is produced out-of-band and
	// only read here.
	UserAPIID      int
	UserAPIHash    string
	UserSessionDir string

	// Object store gateway (C1).
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3Bucket     string
	S3UseSSL     bool
	S3Region     string
	QuotaBytes   int64 // 0 = unknown/unbounded, matches C9's "OPEN on unknown"

	// Job queue broker (C7/C8).
	AMQPURL string

	// Local state. One bbolt file backs both the dedup index (C2) and the
	// local job table (C7); both processes open it, so at most one worker
	// replica may run against a given data directory.
	DataDir string

	// Pipeline tuning (§5, §6).
	AlbumWindowSeconds int
	MaxFileGB          int
	InlineLimitBytes   int64
	Concurrency        int
	IOTimeoutSeconds   int
	DedupEnable        bool
	JobMaxRetries      int
	WorkerConcurrency  int

	// Ambient stack.
	HealthPort int
	LogLevel   string
	LogJSON    bool
}

const (
	defaultAlbumWindowSeconds = 2
	defaultMaxFileGB          = 4
	defaultInlineLimitBytes   = 50 * 1024 * 1024
	defaultConcurrency        = 8
	maxConcurrency            = 32
	defaultIOTimeoutSeconds   = 60
	defaultJobMaxRetries      = 5
	defaultWorkerConcurrency  = 1
	defaultHealthPort         = 8081
	defaultDataDir            = "./data"
)

// Load builds a Config from environment variables, applying defaults and
// clamping bounded fields. This is the one point where config validation
// happens; Config is treated as read-only from here on.
func Load() (*Config, error) {
	cfg := &Config{
		BotToken:       os.Getenv("TELTUBBY_BOT_TOKEN"),
		UserAPIHash:    os.Getenv("TELTUBBY_USER_API_HASH"),
		UserSessionDir: envOr("TELTUBBY_USER_SESSION_DIR", "./data/session"),
		S3Endpoint:     os.Getenv("TELTUBBY_S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("TELTUBBY_S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("TELTUBBY_S3_SECRET_KEY"),
		S3Bucket:       envOr("TELTUBBY_S3_BUCKET", "teltubby"),
		S3Region:       os.Getenv("TELTUBBY_S3_REGION"),
		AMQPURL:        os.Getenv("TELTUBBY_AMQP_URL"),
		DataDir:        envOr("TELTUBBY_DATA_DIR", defaultDataDir),
		LogLevel:       envOr("TELTUBBY_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.CuratorIDs, err = parseIDSet(os.Getenv("TELTUBBY_CURATOR_IDS")); err != nil {
		return nil, fmt.Errorf("TELTUBBY_CURATOR_IDS: %w", err)
	}
	if cfg.AdminIDs, err = parseIDSet(os.Getenv("TELTUBBY_ADMIN_IDS")); err != nil {
		return nil, fmt.Errorf("TELTUBBY_ADMIN_IDS: %w", err)
	}
	if len(cfg.CuratorIDs) == 0 {
		return nil, fmt.Errorf("TELTUBBY_CURATOR_IDS: at least one curator is required")
	}

	if cfg.UserAPIID, err = envIntOr("TELTUBBY_USER_API_ID", 0); err != nil {
		return nil, err
	}
	if cfg.S3UseSSL, err = envBoolOr("TELTUBBY_S3_USE_SSL", true); err != nil {
		return nil, err
	}
	if cfg.QuotaBytes, err = envInt64Or("TELTUBBY_BUCKET_QUOTA_BYTES", 0); err != nil {
		return nil, err
	}
	if cfg.AlbumWindowSeconds, err = envIntOr("TELTUBBY_ALBUM_WINDOW_SECONDS", defaultAlbumWindowSeconds); err != nil {
		return nil, err
	}
	if cfg.MaxFileGB, err = envIntOr("TELTUBBY_MAX_FILE_GB", defaultMaxFileGB); err != nil {
		return nil, err
	}
	if cfg.InlineLimitBytes, err = envInt64Or("TELTUBBY_INLINE_LIMIT_BYTES", defaultInlineLimitBytes); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = envIntOr("TELTUBBY_CONCURRENCY", defaultConcurrency); err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	} else if cfg.Concurrency > maxConcurrency {
		cfg.Concurrency = maxConcurrency
	}
	if cfg.IOTimeoutSeconds, err = envIntOr("TELTUBBY_IO_TIMEOUT_SECONDS", defaultIOTimeoutSeconds); err != nil {
		return nil, err
	}
	if cfg.DedupEnable, err = envBoolOr("TELTUBBY_DEDUP_ENABLE", true); err != nil {
		return nil, err
	}
	if cfg.JobMaxRetries, err = envIntOr("TELTUBBY_JOB_MAX_RETRIES", defaultJobMaxRetries); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = envIntOr("TELTUBBY_WORKER_CONCURRENCY", defaultWorkerConcurrency); err != nil {
		return nil, err
	}
	if cfg.HealthPort, err = envIntOr("TELTUBBY_HEALTH_PORT", defaultHealthPort); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = envBoolOr("TELTUBBY_LOG_JSON", false); err != nil {
		return nil, err
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("TELTUBBY_BOT_TOKEN is required")
	}
	if cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("TELTUBBY_S3_ENDPOINT, TELTUBBY_S3_ACCESS_KEY and TELTUBBY_S3_SECRET_KEY are required")
	}
	if cfg.AMQPURL == "" {
		return nil, fmt.Errorf("TELTUBBY_AMQP_URL is required")
	}

	return cfg, nil
}

// IsCurator reports whether userID may submit media.
func (c *Config) IsCurator(userID int64) bool {
	_, ok := c.CuratorIDs[userID]
	return ok
}

// IsAdmin reports whether userID may issue retry/cancel/db_maint.
func (c *Config) IsAdmin(userID int64) bool {
	_, ok := c.AdminIDs[userID]
	return ok
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: not an integer: %w", key, err)
	}
	return n, nil
}

func envInt64Or(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: not an integer: %w", key, err)
	}
	return n, nil
}

func envBoolOr(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: not a boolean: %w", key, err)
	}
	return b, nil
}

// parseIDSet parses a comma-separated list of int64 chat/user ids. An empty
// string yields an empty, non-nil set.
func parseIDSet(raw string) (map[int64]struct{}, error) {
	set := make(map[int64]struct{})
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return set, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		set[id] = struct{}{}
	}
	return set, nil
}
