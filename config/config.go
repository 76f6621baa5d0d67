package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Mpesa    MpesaConfig
	Platform PlatformConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/deevents?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds session token signing settings.
type JWTConfig struct {
	Secret           string
	AccessTTLMinutes int
	RefreshTTLHours  int
}

// AWSConfig holds AWS credentials and S3 bucket names.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	KYCBucket            string // private; identity documents and selfies
	MediaBucket          string // avatars and organization branding
	PresignExpireMinutes int
}

// MpesaConfig holds Daraja API credentials for STK push and B2C.
type MpesaConfig struct {
	Environment        string // "sandbox" or "production"
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	Passkey            string
	CallbackURL        string
	InitiatorName      string
	SecurityCredential string
	ResultURL          string
	TimeoutURL         string
	HTTPTimeoutSec     int
}

// PlatformConfig holds market defaults.
type PlatformConfig struct {
	DefaultCountry   string // ISO code applied when a registration has none
	PhoneCountryCode string // digits only, e.g. 254
}

// WorkerConfig holds background reconciliation settings.
type WorkerConfig struct {
	ReconcileInterval time.Duration
	MetricsPort       string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// BaseURL returns the Daraja host for the configured environment.
func (c MpesaConfig) BaseURL() string {
	if c.Environment == "production" {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "deevents"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:           getEnv("JWT_SECRET", "change-me-in-production"),
			AccessTTLMinutes: getEnvInt("JWT_ACCESS_TTL_MINUTES", 60),
			RefreshTTLHours:  getEnvInt("JWT_REFRESH_TTL_HOURS", 24*7),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "af-south-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			KYCBucket:            getEnv("AWS_S3_KYC_BUCKET", "deevents-kyc"),
			MediaBucket:          getEnv("AWS_S3_MEDIA_BUCKET", "deevents-media"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Mpesa: MpesaConfig{
			Environment:        getEnv("MPESA_ENVIRONMENT", "sandbox"),
			ConsumerKey:        getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:     getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:          getEnv("MPESA_SHORT_CODE", ""),
			Passkey:            getEnv("MPESA_PASSKEY", ""),
			CallbackURL:        getEnv("MPESA_CALLBACK_URL", ""),
			InitiatorName:      getEnv("MPESA_INITIATOR_NAME", ""),
			SecurityCredential: getEnv("MPESA_SECURITY_CREDENTIAL", ""),
			ResultURL:          getEnv("MPESA_RESULT_URL", ""),
			TimeoutURL:         getEnv("MPESA_TIMEOUT_URL", ""),
			HTTPTimeoutSec:     getEnvInt("MPESA_HTTP_TIMEOUT_SEC", 30),
		},
		Platform: PlatformConfig{
			DefaultCountry:   strings.ToUpper(getEnv("DEFAULT_COUNTRY", "KE")),
			PhoneCountryCode: strings.TrimPrefix(getEnv("PHONE_COUNTRY_CODE", "254"), "+"),
		},
		Worker: WorkerConfig{
			ReconcileInterval: time.Duration(getEnvInt("RECONCILE_INTERVAL_SEC", 300)) * time.Second,
			MetricsPort:       getEnv("WORKER_METRICS_PORT", "9091"),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
