package config

// This file defines the Redis client constructor.  Redis backs the
// distributed rate limiter on the login, oauth and refresh routes.  If the
// connection fails during startup the constructor returns nil and callers
// degrade by disabling rate limiting.

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "github.com/caarlos0/env/v11"
    "github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings.  REDIS_HOST and REDIS_PORT
// take precedence over REDIS_ADDR when both are set.
type RedisConfig struct {
    Host     string `env:"REDIS_HOST"`
    Port     string `env:"REDIS_PORT"`
    Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
    Password string `env:"REDIS_PASSWORD"`
    DB       int    `env:"REDIS_DB"`
    TLS      bool   `env:"REDIS_TLS"`
}

func LoadRedisConfig() (RedisConfig, error) {
    var cfg RedisConfig
    if err := env.Parse(&cfg); err != nil {
        return RedisConfig{}, fmt.Errorf("parse redis env: %w", err)
    }
    if cfg.Host != "" && cfg.Port != "" {
        cfg.Addr = cfg.Host + ":" + cfg.Port
    }
    return cfg, nil
}

// NewRedisClient connects with cfg and pings the server with a short
// timeout.  The returned client is nil if the server is unreachable.
func NewRedisClient(cfg RedisConfig) *redis.Client {
    var tlsConf *tls.Config
    if cfg.TLS {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      cfg.Addr,
        Password:  cfg.Password,
        DB:        cfg.DB,
        TLSConfig: tlsConf,
    })
    // Ping the server with a short timeout.  Return nil on failure.
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil
    }
    return client
}
