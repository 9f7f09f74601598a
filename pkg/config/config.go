package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Database drivers supported by pkg/database.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Sync modes.
const (
	SyncModeDatabase = "database"
	SyncModeLegacy   = "legacy"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Webhook  WebhookConfig
	Cache    CacheConfig
	Sync     SyncConfig
	Portal   PortalConfig
	Export   ExportConfig
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// WebhookConfig points course change notifications at an external endpoint.
type WebhookConfig struct {
	URL         string
	Timeout     time.Duration
	NotifyOnNew bool
}

// CacheConfig governs the Redis-backed course list cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// SyncConfig controls how and when score syncs run.
type SyncConfig struct {
	Mode         string
	Schedule     string
	Workers      int
	LegacyDir    string
	FetchCommand string
	FetchTimeout time.Duration
}

// PortalConfig holds the account the CLI syncs when no flags override it.
type PortalConfig struct {
	UserID   string
	Password string
	Year     string
	Semester string
}

// ExportConfig tunes course list exports.
type ExportConfig struct {
	FontPath string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		SQLitePath:   v.GetString("SQLITE_PATH"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 30*24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Webhook = WebhookConfig{
		URL:         v.GetString("WEBHOOK_URL"),
		Timeout:     parseDuration(v.GetString("WEBHOOK_TIMEOUT"), 10*time.Second),
		NotifyOnNew: v.GetBool("NOTIFY_ON_NEW"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_COURSE_CACHE"),
		TTL:     parseDuration(v.GetString("COURSE_CACHE_TTL"), 10*time.Minute),
	}

	workers := v.GetInt("SYNC_WORKERS")
	if workers <= 0 {
		workers = 1
	}
	cfg.Sync = SyncConfig{
		Mode:         strings.ToLower(v.GetString("SYNC_MODE")),
		Schedule:     v.GetString("SYNC_SCHEDULE"),
		Workers:      workers,
		LegacyDir:    v.GetString("LEGACY_DIR"),
		FetchCommand: v.GetString("FETCH_COMMAND"),
		FetchTimeout: parseDuration(v.GetString("FETCH_TIMEOUT"), 2*time.Minute),
	}

	cfg.Portal = PortalConfig{
		UserID:   v.GetString("PORTAL_USER_ID"),
		Password: v.GetString("PORTAL_PASSWORD"),
		Year:     v.GetString("PORTAL_YEAR"),
		Semester: v.GetString("PORTAL_SEMESTER"),
	}

	cfg.Export = ExportConfig{FontPath: v.GetString("EXPORT_FONT_PATH")}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "score_tracker")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("SQLITE_PATH", "data.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "720h")
	v.SetDefault("JWT_ISSUER", "score-tracker")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("WEBHOOK_URL", "")
	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("NOTIFY_ON_NEW", true)

	v.SetDefault("ENABLE_COURSE_CACHE", false)
	v.SetDefault("COURSE_CACHE_TTL", "10m")

	v.SetDefault("SYNC_MODE", SyncModeDatabase)
	v.SetDefault("SYNC_SCHEDULE", "")
	v.SetDefault("SYNC_WORKERS", 1)
	v.SetDefault("LEGACY_DIR", "./scores")
	v.SetDefault("FETCH_COMMAND", "")
	v.SetDefault("FETCH_TIMEOUT", "2m")

	v.SetDefault("PORTAL_USER_ID", "")
	v.SetDefault("PORTAL_PASSWORD", "")
	v.SetDefault("PORTAL_YEAR", "")
	v.SetDefault("PORTAL_SEMESTER", "")

	v.SetDefault("EXPORT_FONT_PATH", "")
}

// viper reports a missing explicit config file as a path error rather than ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
