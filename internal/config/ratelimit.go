package config

import (
    "fmt"
    "time"

    "github.com/caarlos0/env/v11"
)

// RateLimitConfig drives the Redis token bucket in front of the
// credential-accepting routes (login, oauth, refresh).
type RateLimitConfig struct {
    Enabled        bool          `env:"RATE_LIMIT_ENABLED"         envDefault:"true"`
    Capacity       int           `env:"RATE_LIMIT_CAPACITY"        envDefault:"20"`
    RefillTokens   int           `env:"RATE_LIMIT_REFILL_TOKENS"   envDefault:"1"`
    RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"3s"`
    TTL            time.Duration `env:"RATE_LIMIT_TTL"             envDefault:"10m"`
    KeyStrategy    string        `env:"RATE_LIMIT_KEY_STRATEGY"    envDefault:"ip_route"`
    Prefix         string        `env:"RATE_LIMIT_PREFIX"          envDefault:"rl:auth"`
    Debug          bool          `env:"RATE_LIMIT_DEBUG"`
}

func LoadRateLimitConfig() (RateLimitConfig, error) {
    var cfg RateLimitConfig
    if err := env.Parse(&cfg); err != nil {
        return RateLimitConfig{}, fmt.Errorf("parse rate limit env: %w", err)
    }
    return cfg.normalized(), nil
}

func (c RateLimitConfig) normalized() RateLimitConfig {
    if c.Capacity < 1 { c.Capacity = 1 }
    if c.RefillTokens < 1 { c.RefillTokens = 1 }
    if c.RefillInterval <= 0 { c.RefillInterval = time.Second }
    if minTTL := 5 * c.RefillInterval; c.TTL < minTTL { c.TTL = minTTL }
    return c
}
