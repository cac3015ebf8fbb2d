package cache

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/r3data-core/rdatacore/internal/config"
)

// Config bounds the two cache tiers (§4.K).
type Config struct {
	DefinitionCacheSize int
	CredentialCacheSize int
	CredentialTTL       time.Duration
	RedisEnabled        bool
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
}

// LoadConfig reads Config from the environment, the way internal/storage's
// config loader does for the database connection. Redis (L2) is disabled
// by default; the credential cache runs L1-only until an operator opts in.
func LoadConfig() *Config {
	return &Config{
		DefinitionCacheSize: config.GetEnvInt("RDATACORE_DEFINITION_CACHE_SIZE", 1024),
		CredentialCacheSize: config.GetEnvInt("RDATACORE_CREDENTIAL_CACHE_SIZE", 4096),
		CredentialTTL:       config.GetEnvDuration("RDATACORE_CREDENTIAL_CACHE_TTL", 10*time.Minute),
		RedisEnabled:        config.GetEnvBool("RDATACORE_REDIS_ENABLED", false),
		RedisAddr:           config.GetEnvStr("RDATACORE_REDIS_ADDR", "localhost:6379"),
		RedisPassword:       config.GetEnvStr("RDATACORE_REDIS_PASSWORD", ""),
		RedisDB:             config.GetEnvInt("RDATACORE_REDIS_DB", 0),
	}
}

// NewRedisClient opens a redis.Client against cfg. go-redis lazily
// connects on first command, so this never blocks or errors at startup.
func NewRedisClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
