package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Store     StoreConfig
	Firestore FirestoreConfig
	Firebase  FirebaseConfig
	Redis     RedisConfig
	Assets    AssetsConfig
	S3        S3Config
	GCS       GCSConfig
	Cascade   CascadeConfig
	Outbox    OutboxConfig
	Session   SessionConfig
}

type ServerConfig struct {
	Port        string
	GinMode     string
	Environment string
	LogFormat   string
}

type DatabaseConfig struct {
	Driver   string // postgres, sqlite
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Path     string // sqlite file path
}

type JWTConfig struct {
	Secret             string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// StoreConfig selects the document store backing carts and products.
type StoreConfig struct {
	Backend          string // gorm, firestore
	MaxAttempts      int
	BreakerEnabled   bool
	BreakerMinCalls  uint32
	BreakerFailRatio float64
	BreakerTimeout   time.Duration
}

type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
}

type FirebaseConfig struct {
	AuthEnabled bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	Channel  string
}

type AssetsConfig struct {
	Backend      string // s3, gcs, memory
	MaxImageSize int64
}

type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	BaseURL         string // CloudFront or S3 direct URL
}

type GCSConfig struct {
	Bucket  string
	BaseURL string
}

type CascadeConfig struct {
	Concurrency int
}

type OutboxConfig struct {
	Schedule    string
	BatchSize   int
	MaxAttempts int
}

type SessionConfig struct {
	SyncTimeout  time.Duration
	WriteTimeout time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			GinMode:     getEnv("GIN_MODE", "debug"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogFormat:   getEnv("LOG_FORMAT", "console"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "1234"),
			DBName:   getEnv("DB_NAME", "cartsync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "cartsync.db"),
		},
		JWT: JWTConfig{
			Secret:             getEnv("JWT_SECRET", "your-secret-key"),
			AccessTokenExpiry:  parseDuration(getEnv("JWT_ACCESS_TOKEN_EXPIRY", "15m"), 15*time.Minute),
			RefreshTokenExpiry: parseDuration(getEnv("JWT_REFRESH_TOKEN_EXPIRY", "168h"), 168*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseSlice(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		},
		Store: StoreConfig{
			Backend:          getEnv("STORE_BACKEND", "gorm"),
			MaxAttempts:      parseInt(getEnv("STORE_MAX_ATTEMPTS", "5"), 5),
			BreakerEnabled:   parseBool(getEnv("STORE_BREAKER_ENABLED", "true")),
			BreakerMinCalls:  uint32(parseInt(getEnv("STORE_BREAKER_MIN_CALLS", "5"), 5)),
			BreakerFailRatio: parseFloat(getEnv("STORE_BREAKER_FAIL_RATIO", "0.6"), 0.6),
			BreakerTimeout:   parseDuration(getEnv("STORE_BREAKER_TIMEOUT", "30s"), 30*time.Second),
		},
		Firestore: FirestoreConfig{
			ProjectID:       getEnv("FIRESTORE_PROJECT_ID", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		Firebase: FirebaseConfig{
			AuthEnabled: parseBool(getEnv("FIREBASE_AUTH_ENABLED", "false")),
		},
		Redis: RedisConfig{
			Enabled:  parseBool(getEnv("REDIS_ENABLED", "false")),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt(getEnv("REDIS_DB", "0"), 0),
			Channel:  getEnv("REDIS_CHANNEL", "cartsync:changes"),
		},
		Assets: AssetsConfig{
			Backend:      getEnv("ASSETS_BACKEND", "memory"),
			MaxImageSize: int64(parseInt(getEnv("ASSETS_MAX_IMAGE_SIZE", "5242880"), 5<<20)),
		},
		S3: S3Config{
			Region:          getEnv("AWS_REGION", "ap-northeast-2"),
			Bucket:          getEnv("AWS_S3_BUCKET", "cartsync-uploads"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			BaseURL:         getEnv("AWS_S3_BASE_URL", ""),
		},
		GCS: GCSConfig{
			Bucket:  getEnv("GCS_BUCKET", ""),
			BaseURL: getEnv("GCS_BASE_URL", ""),
		},
		Cascade: CascadeConfig{
			Concurrency: parseInt(getEnv("CASCADE_CONCURRENCY", "16"), 16),
		},
		Outbox: OutboxConfig{
			Schedule:    getEnv("OUTBOX_SCHEDULE", "@every 30s"),
			BatchSize:   parseInt(getEnv("OUTBOX_BATCH_SIZE", "100"), 100),
			MaxAttempts: parseInt(getEnv("OUTBOX_MAX_ATTEMPTS", "20"), 20),
		},
		Session: SessionConfig{
			SyncTimeout:  parseDuration(getEnv("SESSION_SYNC_TIMEOUT", "5s"), 5*time.Second),
			WriteTimeout: parseDuration(getEnv("SESSION_WRITE_TIMEOUT", "10s"), 10*time.Second),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Store.Backend {
	case "gorm":
	case "firestore":
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required when STORE_BACKEND=firestore")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Assets.Backend {
	case "s3", "gcs", "memory":
	default:
		return fmt.Errorf("unsupported ASSETS_BACKEND %q", c.Assets.Backend)
	}
	if c.Assets.Backend == "gcs" && c.GCS.Bucket == "" {
		return fmt.Errorf("GCS_BUCKET is required when ASSETS_BACKEND=gcs")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	duration, err := time.ParseDuration(s)
	if err != nil {
		log.Printf("Invalid duration %s, using default %s", s, fallback)
		return fallback
	}
	return duration
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		log.Printf("Invalid integer %s, using default %d", s, fallback)
		return fallback
	}
	return n
}

func parseFloat(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		log.Printf("Invalid number %s, using default %g", s, fallback)
		return fallback
	}
	return f
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func parseSlice(s string) []string {
	if s == "" {
		return []string{}
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
