package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	godotenv "github.com/joho/godotenv"
)

// Worker is the number of consumers started per queue. Queues missing here
// get a single consumer.
var Worker = map[string]int{
	"resize_queue": 4,
}

type Config struct {
	HTTPAddr       string
	RedisURL       string
	RedisTimeout   time.Duration
	AwsRegion      string
	AwsBucketName  string
	S3Endpoint     string
	S3Prefix       string
	S3Timeout      time.Duration
	Workers        int
	MaxFiles       int
	MaxUploadBytes int64
	DeviceID       string
	SessionTTL     time.Duration
	SessionLimit   int

	RabbitMqURL           string
	RabbitMqQueues        []string
	DeleteRawAfterProcess bool
}

// InitializeEnvs loads the .env file picked by APP_ENV, then reads the
// configuration from the environment.
func InitializeEnvs() (*Config, error) {
	loadEnvFiles()
	return FromEnv(os.Getenv)
}

func loadEnvFiles() {
	appEnv := os.Getenv("APP_ENV")
	switch appEnv {
	case "docker":
		if err := godotenv.Overload(".env.docker"); err == nil {
			slog.Info("loaded env file", "file", ".env.docker")
		} else {
			slog.Info(".env.docker not found, using existing environment")
		}
	case "dev", "":
		if err := godotenv.Overload(".env.dev"); err == nil {
			slog.Info("loaded env file", "file", ".env.dev")
		} else if err := godotenv.Overload(".env"); err == nil {
			slog.Info("loaded env file", "file", ".env")
		} else {
			slog.Info("no .env.dev or .env found, using system environment variables")
		}
	default:
		fname := ".env." + appEnv
		if err := godotenv.Overload(fname); err == nil {
			slog.Info("loaded env file", "file", fname)
		} else if err := godotenv.Overload(".env"); err == nil {
			slog.Info("loaded env file", "file", ".env")
		} else {
			slog.Info("no env file found, using system environment variables", "file", fname)
		}
	}
}

// FromEnv builds the configuration from getenv. Every malformed or missing
// required variable is reported at once.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}
	cfg := &Config{
		HTTPAddr:       p.str("HTTP_ADDR", ":3000"),
		RedisURL:       p.str("REDIS_URL", "redis://localhost:6379"),
		RedisTimeout:   p.duration("REDIS_TIMEOUT", 500*time.Millisecond),
		AwsRegion:      p.required("AWS_REGION"),
		AwsBucketName:  p.required("AWS_BUCKET_NAME"),
		S3Endpoint:     p.str("S3_ENDPOINT", ""),
		S3Prefix:       p.str("S3_PREFIX", "resized-images/"),
		S3Timeout:      p.duration("S3_TIMEOUT", 10*time.Second),
		Workers:        p.integer("WORKERS", runtime.NumCPU()),
		MaxFiles:       p.integer("MAX_FILES", 10),
		MaxUploadBytes: int64(p.integer("MAX_UPLOAD_BYTES", 32<<20)),
		DeviceID:       DeviceIdentity(getenv("DEVICE_ID")),
		SessionTTL:     p.duration("SESSION_TTL", 30*time.Minute),
		SessionLimit:   p.integer("SESSION_LIMIT", 1024),

		RabbitMqURL:           p.str("RABBITMQ_URL", ""),
		RabbitMqQueues:        splitList(getenv("RABBITMQ_QUEUES")),
		DeleteRawAfterProcess: p.boolean("DELETE_RAW_AFTER_PROCESS", false),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateWorker checks the variables only the queue worker needs.
func (c *Config) ValidateWorker() error {
	var missing []string
	if c.RabbitMqURL == "" {
		missing = append(missing, "RABBITMQ_URL")
	}
	if len(c.RabbitMqQueues) == 0 {
		missing = append(missing, "RABBITMQ_QUEUES")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s is missing", strings.Join(missing, " or "))
	}
	return nil
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(name, def string) string {
	if v := strings.TrimSpace(p.getenv(name)); v != "" {
		return v
	}
	return def
}

func (p *parser) required(name string) string {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		p.errs = append(p.errs, fmt.Errorf("%s is missing", name))
	}
	return v
}

func (p *parser) duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s must be a positive duration, got %q", name, v))
		return def
	}
	return d
}

func (p *parser) integer(name string, def int) int {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s must be a positive integer, got %q", name, v))
		return def
	}
	return n
}

func (p *parser) boolean(name string, def bool) bool {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean, got %q", name, v))
		return def
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
