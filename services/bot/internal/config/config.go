package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"bookshopbot/internal/servicetoken"
)

// ConfigPath is used when neither an explicit path nor BOT_CONFIG is set.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	TelegramToken       string  `yaml:"telegramToken"`
	TelegramBaseURL     string  `yaml:"telegramBaseURL"`
	TelegramPollTimeout string  `yaml:"telegramPollTimeout"`
	AdminIDs            []int64 `yaml:"adminIds"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	PageSize               int    `yaml:"pageSize"`
	SessionTTL             string `yaml:"sessionTTL"`
	UserRateLimitPerMinute int    `yaml:"userRateLimitPerMinute"`

	TaskConcurrency int    `yaml:"taskConcurrency"`
	TaskCooldown    string `yaml:"taskCooldown"`

	OpenLibraryURL string `yaml:"openLibraryURL"`
	ScrapeSubject  string `yaml:"scrapeSubject"`
	ScrapeTotal    int    `yaml:"scrapeTotal"`
	ScrapeBatch    int    `yaml:"scrapeBatch"`

	DataDir             string `yaml:"dataDir"`
	PgDumpPath          string `yaml:"pgDumpPath"`
	BackupRetentionDays int    `yaml:"backupRetentionDays"`

	StorageBackend     string `yaml:"storageBackend"`
	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	GCSBucket          string `yaml:"gcsBucket"`
	GCSCredentialsFile string `yaml:"gcsCredentialsFile"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	OpsJWTPublicKeyPath    string            `yaml:"opsJwtPublicKeyPath"`
	OpsJWTKeyID            string            `yaml:"opsJwtKeyId"`
	OpsJWTVerifyPublicKeys map[string]string `yaml:"opsJwtVerifyPublicKeys"`
	OpsJWTAllowedIssuers   []string          `yaml:"opsJwtAllowedIssuers"`
}

// Load reads config from path, falling back to BOT_CONFIG and then ConfigPath.
// A .env file in the working directory is loaded first when present.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config: load .env failed", "err", err)
	}
	if path == "" {
		path = strings.TrimSpace(os.Getenv("BOT_CONFIG"))
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("BOT_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.TelegramToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_BASE_URL"); v != "" {
		cfg.TelegramBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("ADMIN_CHAT_IDS"); v != "" {
		cfg.AdminIDs = parseIDs(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("BOT_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.PageSize = n
		}
	}
	if v := os.Getenv("BOT_SESSION_TTL"); v != "" {
		cfg.SessionTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("BOT_USER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.UserRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("BOT_TASK_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.TaskConcurrency = n
		}
	}
	if v := os.Getenv("BOT_TASK_COOLDOWN"); v != "" {
		cfg.TaskCooldown = strings.TrimSpace(v)
	}
	if v := os.Getenv("BOT_DATA_DIR"); v != "" {
		cfg.DataDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("PG_DUMP_PATH"); v != "" {
		cfg.PgDumpPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("BACKUP_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.BackupRetentionDays = n
		}
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("GCS_BUCKET_NAME"); v != "" {
		cfg.GCSBucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		cfg.GCSCredentialsFile = strings.TrimSpace(v)
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPS_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.OpsJWTPublicKeyPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPS_JWT_KEY_ID"); v != "" {
		cfg.OpsJWTKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPS_JWT_VERIFY_PUBLIC_KEYS"); v != "" {
		if parsed, err := servicetoken.ParseVerifyPublicKeys(v); err == nil {
			cfg.OpsJWTVerifyPublicKeys = parsed
		} else {
			slog.Warn("config: ignoring OPS_JWT_VERIFY_PUBLIC_KEYS", "err", err)
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TelegramPollTimeout == "" {
		cfg.TelegramPollTimeout = "30s"
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 6
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "30m"
	}
	if cfg.TaskConcurrency == 0 {
		cfg.TaskConcurrency = 2
	}
	if cfg.TaskCooldown == "" {
		cfg.TaskCooldown = "1m"
	}
	if cfg.OpenLibraryURL == "" {
		cfg.OpenLibraryURL = "https://openlibrary.org"
	}
	if cfg.ScrapeSubject == "" {
		cfg.ScrapeSubject = "love"
	}
	if cfg.ScrapeTotal == 0 {
		cfg.ScrapeTotal = 250
	}
	if cfg.ScrapeBatch == 0 {
		cfg.ScrapeBatch = 100
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.PgDumpPath == "" {
		cfg.PgDumpPath = "pg_dump"
	}
	if cfg.BackupRetentionDays == 0 {
		cfg.BackupRetentionDays = 30
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "file"
	}
	if len(cfg.OpsJWTAllowedIssuers) == 0 {
		cfg.OpsJWTAllowedIssuers = []string{"jobctl"}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return errors.New("config: telegramToken is required (set in config.yaml or TELEGRAM_BOT_TOKEN)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for the task queue and sessions")
	}
	if cfg.PageSize < 1 {
		return errors.New("config: pageSize must be >= 1")
	}
	if cfg.TaskConcurrency < 1 {
		return errors.New("config: taskConcurrency must be >= 1")
	}
	if cfg.UserRateLimitPerMinute < 0 {
		return errors.New("config: userRateLimitPerMinute must be >= 0")
	}
	if cfg.ScrapeTotal < 1 || cfg.ScrapeBatch < 1 {
		return errors.New("config: scrapeTotal and scrapeBatch must be >= 1")
	}
	if cfg.BackupRetentionDays < 1 {
		return errors.New("config: backupRetentionDays must be >= 1")
	}
	for _, name := range []string{cfg.SessionTTL, cfg.TaskCooldown, cfg.TelegramPollTimeout} {
		if _, err := parsePositiveDuration(name); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	switch cfg.StorageBackend {
	case "file":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minio storage requires minioEndpoint, minioAccessKey, minioSecretKey and minioBucket")
		}
	case "gcs":
		if cfg.GCSBucket == "" {
			return errors.New("config: gcs storage requires gcsBucket (or GCS_BUCKET_NAME)")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q (use file, minio or gcs)", cfg.StorageBackend)
	}
	if cfg.OpsJWTPublicKeyPath == "" && len(cfg.OpsJWTVerifyPublicKeys) == 0 {
		return errors.New("config: opsJwtPublicKeyPath is required (set in config.yaml or OPS_JWT_PUBLIC_KEY_PATH)")
	}
	return nil
}

// Durations parses the duration settings.
func (c FileConfig) Durations() (sessionTTL, taskCooldown, pollTimeout time.Duration, err error) {
	if sessionTTL, err = parsePositiveDuration(c.SessionTTL); err != nil {
		return
	}
	if taskCooldown, err = parsePositiveDuration(c.TaskCooldown); err != nil {
		return
	}
	pollTimeout, err = parsePositiveDuration(c.TelegramPollTimeout)
	return
}

// BackupRetention is the retention window as a duration.
func (c FileConfig) BackupRetention() time.Duration {
	return time.Duration(c.BackupRetentionDays) * 24 * time.Hour
}

func parsePositiveDuration(value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return d, nil
}

func parseIDs(value string) []int64 {
	parts := strings.Split(value, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			slog.Warn("config: skipping invalid admin id", "value", part)
			continue
		}
		out = append(out, id)
	}
	return out
}
