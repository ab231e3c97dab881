package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type AppConfig struct {
	App struct {
		Name      string
		Port      string
		Env       string
		LogLevel  string
		ClientURL string
	}
	Auth struct {
		JWTSecret string
	}
	Store struct {
		Driver     string
		SQLitePath string
		Database   Database
	}
	Redis struct {
		Enabled  bool
		Host     string
		Port     int
		Password string
		DB       int
	}
	Kafka struct {
		Brokers []string
		GroupID string
	}
	Leaderboard struct {
		Limit    int
		CacheTTL time.Duration
	}
	Presence struct {
		PreviewSize int
	}
}

type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

var Config AppConfig

func InitConfig(DevMode bool) *AppConfig {
	if DevMode {
		if err := godotenv.Load(); err != nil {
			log.Error().Err(err).Msg("Error loading .env file")
		}
	}

	Config.App.Name = getEnv("APP_NAME", "typesprint-socket")
	Config.App.Port = getEnv("PORT", "6001")
	Config.App.Env = getEnv("ENV", "development")
	Config.App.LogLevel = getEnv("LOG_LEVEL", "info")
	Config.App.ClientURL = getEnv("CLIENT_URL", "*")

	Config.Auth.JWTSecret = os.Getenv("JWT_SECRET")

	Config.Store.Driver = strings.ToLower(getEnv("STORE_DRIVER", "memory"))
	Config.Store.SQLitePath = getEnv("SQLITE_PATH", "typesprint.db")
	Config.Store.Database = Database{
		Host:     getEnv("DATABASE_HOST", "localhost"),
		Port:     getEnv("DATABASE_PORT", "5432"),
		User:     os.Getenv("DATABASE_USER"),
		Password: os.Getenv("DATABASE_PASSWORD"),
		Name:     getEnv("DATABASE_NAME", "typesprint"),
	}

	Config.Redis.Host = os.Getenv("REDIS_HOST")
	Config.Redis.Enabled = Config.Redis.Host != ""
	Config.Redis.Port = getEnvInt("REDIS_PORT", 6379)
	Config.Redis.Password = os.Getenv("REDIS_PASSWORD")
	Config.Redis.DB = getEnvInt("REDIS_DB", 0)

	Config.Kafka.Brokers = getEnvList("KAFKA_BROKERS")
	Config.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", "typesprint-socket")

	Config.Leaderboard.Limit = getEnvInt("LEADERBOARD_LIMIT", 50)
	Config.Leaderboard.CacheTTL = getEnvDuration("LEADERBOARD_CACHE_TTL", 30*time.Second)

	Config.Presence.PreviewSize = getEnvInt("ONLINE_PREVIEW_SIZE", 10)

	return &Config
}

// Validate reports settings the server cannot start without.
func (c *AppConfig) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	return nil
}

func (c *AppConfig) IsProduction() bool {
	return c.App.Env == "production"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Int("default", fallback).Msg("Invalid int, using default")
		return fallback
	}
	return i
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Dur("default", fallback).Msg("Invalid duration, using default")
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
