package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string
	// Timezone: часовой пояс для границ суток (сброс нумерации талонов в полночь).
	Timezone string

	// StoreDriver: postgres (по умолчанию) или memory (без БД, для локального запуска).
	StoreDriver string
	// DepartmentsFile: YAML со списком отделений. Если пусто, берутся отделения по умолчанию.
	DepartmentsFile string

	Queue struct {
		StoreTimeout  time.Duration
		ClaimAttempts int
		IssueAttempts int
	}

	// Если RedisURL задан, выдача талонов блокируется через Redis (несколько реплик).
	RedisURL string
	LockTTL  time.Duration

	KafkaBrokers    []string
	KafkaTopicQueue string

	// SearchServiceURL — если задан, записи очереди отправляются в search-service для индексации.
	SearchServiceURL string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:          getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:         firstEnv("APP_PORT", "HTTP_PORT", "8098"),
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Timezone:         getEnv("APP_TIMEZONE", "Local"),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DepartmentsFile:  getEnv("DEPARTMENTS_FILE", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicQueue:  getEnv("KAFKA_TOPIC_QUEUE", "queue.events"),
		SearchServiceURL: getEnv("SEARCH_SERVICE_URL", ""),
	}
	var err error
	if cfg.Queue.StoreTimeout, err = getDuration("QUEUE_STORE_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.LockTTL, err = getDuration("LOCK_TTL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Queue.ClaimAttempts, err = getInt("QUEUE_CLAIM_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.Queue.IssueAttempts, err = getInt("QUEUE_ISSUE_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "queue_service")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DB.Host == "" || c.DB.Database == "" {
			return errors.New("config: DB_HOST and DB_DATABASE are required")
		}
		if c.AppEnv == "production" && c.DB.Password == "" {
			return errors.New("config: in production DB_PASSWORD is required")
		}
	case StoreDriverMemory:
		if c.AppEnv == "production" {
			return errors.New("config: STORE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("config: STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Queue.StoreTimeout <= 0 {
		return errors.New("config: QUEUE_STORE_TIMEOUT must be positive")
	}
	if c.Queue.ClaimAttempts <= 0 || c.Queue.IssueAttempts <= 0 {
		return errors.New("config: QUEUE_CLAIM_ATTEMPTS and QUEUE_ISSUE_ATTEMPTS must be positive")
	}
	return nil
}

// Location разбирает APP_TIMEZONE (IANA-имя или Local).
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: APP_TIMEZONE: %w", err)
	}
	return loc, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "development"
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// splitList разбивает "host1:9092,host2:9092" на слайс.
func splitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
