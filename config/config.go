package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/Annany2002/nebula-gateway/internal/logger"
)

var (
	customLog = logger.NewLogger()
)

const placeholderSecret = "!!replace_this_with_a_real_secret_key!!"

// Config holds application configuration values
type Config struct {
	AppEnv     string `env:"APP_ENV" env-default:"development"`
	ServerPort string `env:"SERVER_PORT" env-default:"8080"`

	JWTSecret     string        `env:"JWT_SECRET" env-required:"true"`
	JWTExpiration time.Duration `env:"JWT_EXPIRATION" env-default:"24h"`

	MetadataDbDir  string `env:"DATABASE_DIRECTORY" env-default:"data"`
	MetadataDbFile string `env:"DATABASE_DIRECTORY_FILE" env-default:"metadata.db"`

	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"text"`
	LogFile   string `env:"LOG_FILE"`

	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" env-default:"30s"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"30m"`

	// Upper bound on a request body of any content type; 0 disables it.
	MaxRequestBytes int64 `env:"MAX_REQUEST_BYTES" env-default:"33554432"`

	// Quota accounting. RateLimitBackend is "sql" (metadata database) or "valkey".
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" env-default:"1h"`
	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" env-default:"sql"`
	ValkeyAddr       string        `env:"VALKEY_ADDR"`
	ValkeyUsername   string        `env:"VALKEY_USERNAME"`
	ValkeyPassword   string        `env:"VALKEY_PASSWORD"`

	// PermissiveWithoutRules grants full CRUD to keys that have no rule on a database.
	PermissiveWithoutRules bool `env:"PERMISSIVE_WITHOUT_RULES" env-default:"true"`

	// Per-IP flood guard in front of authentication; 0 disables it.
	IPThrottleRPS   float64 `env:"IP_THROTTLE_RPS" env-default:"0"`
	IPThrottleBurst int     `env:"IP_THROTTLE_BURST" env-default:"20"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	// Proxies whose X-Forwarded-For is trusted for the caller IP; empty uses the socket address.
	TrustedProxies []string `env:"TRUSTED_PROXIES" env-separator:","`

	// Uploads. UploadBackend is "local" or "s3".
	UploadBackend           string   `env:"UPLOAD_BACKEND" env-default:"local"`
	UploadDir               string   `env:"UPLOAD_DIR" env-default:"uploads"`
	UploadPublicURL         string   `env:"UPLOAD_PUBLIC_URL" env-default:"/uploads"`
	UploadAllowedExtensions []string `env:"UPLOAD_ALLOWED_EXTENSIONS" env-separator:"," env-default:"jpg,jpeg,png,gif,webp,pdf,txt,csv,doc,docx,xls,xlsx"`
	UploadMaxBytes          int64    `env:"UPLOAD_MAX_BYTES" env-default:"10485760"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION" env-default:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3PublicURL string `env:"S3_PUBLIC_URL"`
}

// LoadConfig loads configuration from environment variables.
// It uses a .env file for local development if present (ignores it for production).
func LoadConfig() (*Config, error) {
	customLog.Println("Loading configuration from environment variables...")

	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			customLog.Warnf("Warning: Error loading .env file: %v", err)
		}
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	customLog.Printf("Configuration loaded successfully. Port: %s, JWT Exp: %v, Rate limit backend: %s, Upload backend: %s",
		cfg.ServerPort, cfg.JWTExpiration, cfg.RateLimitBackend, cfg.UploadBackend)
	return cfg, nil
}

// Validate checks values that cleanenv cannot express as tags.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable must be set")
	}
	if c.JWTSecret == placeholderSecret {
		customLog.Warnln("WARNING: JWT_SECRET is set to the default placeholder!")
	}
	if c.JWTExpiration <= 0 {
		customLog.Warnf("Invalid JWT_EXPIRATION '%v'. Using default 24h.", c.JWTExpiration)
		c.JWTExpiration = 24 * time.Hour
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %v", c.RateLimitWindow)
	}

	c.RateLimitBackend = strings.ToLower(c.RateLimitBackend)
	switch c.RateLimitBackend {
	case "sql":
	case "valkey":
		if c.ValkeyAddr == "" {
			return errors.New("VALKEY_ADDR must be set when RATE_LIMIT_BACKEND=valkey")
		}
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q (want sql or valkey)", c.RateLimitBackend)
	}

	c.UploadBackend = strings.ToLower(c.UploadBackend)
	switch c.UploadBackend {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET must be set when UPLOAD_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unknown UPLOAD_BACKEND %q (want local or s3)", c.UploadBackend)
	}

	if !c.PermissiveWithoutRules {
		customLog.Println("API keys without permission rules will be denied.")
	} else {
		customLog.Warnln("PERMISSIVE_WITHOUT_RULES is on: API keys without permission rules get full access.")
	}
	return nil
}
