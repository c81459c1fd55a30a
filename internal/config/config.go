package config // package config loads application configuration from environment variables

import (
    "errors"   // errors reports missing required values
    "fmt"      // fmt wraps parse errors
    "log/slog" // slog builds the process logger
    "os"       // os provides stdout for the log handler
    "strings"  // strings normalizes the log level
    "time"     // time types request timeouts

    "github.com/caarlos0/env/v11" // env maps environment variables onto struct tags
    "github.com/joho/godotenv"    // godotenv loads an optional .env file

    "github.com/iliyamo/fiifi-auth/internal/auth"
    "github.com/iliyamo/fiifi-auth/internal/database"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; defaults live in the envDefault tags.  Token
// lifetimes stay strings ("15m", "7d") because the token service parses
// them with its own fallback rules.
type Config struct {
    Env            string        `env:"APP_ENV"            envDefault:"dev"`      // application environment (dev/test/prod)
    Port           string        `env:"APP_PORT"           envDefault:"8080"`     // HTTP port to listen on
    DBDriver       string        `env:"DB_DRIVER"          envDefault:"mysql"`    // mysql | sqlite
    DBUser         string        `env:"DB_USER"            envDefault:"root"`     // database username
    DBPass         string        `env:"DB_PASS"`                                  // database password (empty allowed)
    DBHost         string        `env:"DB_HOST"            envDefault:"localhost"` // database host address
    DBPort         string        `env:"DB_PORT"            envDefault:"3306"`     // database port number
    DBName         string        `env:"DB_NAME"            envDefault:"auth"`     // database name
    SQLitePath     string        `env:"SQLITE_PATH"        envDefault:"auth.db"`  // database file when DB_DRIVER=sqlite
    AutoMigrate    bool          `env:"AUTO_MIGRATE"       envDefault:"true"`     // create tables on startup
    AccessSecret   string        `env:"JWT_ACCESS_SECRET"`                        // secret used to sign access tokens
    RefreshSecret  string        `env:"JWT_REFRESH_SECRET"`                       // secret used to sign refresh tokens
    AccessExpiry   string        `env:"JWT_ACCESS_EXPIRY"  envDefault:"15m"`      // access token lifetime
    RefreshExpiry  string        `env:"JWT_REFRESH_EXPIRY" envDefault:"7d"`       // refresh token lifetime
    BcryptCost     int           `env:"BCRYPT_COST"        envDefault:"12"`       // bcrypt cost for password hashing
    LogLevel       string        `env:"LOG_LEVEL"          envDefault:"info"`     // debug | info | warn | error
    RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"    envDefault:"5s"`       // per-request deadline for storage calls
    RabbitURL      string        `env:"RABBITMQ_URL"`                             // empty disables event publishing
}

// Load reads an optional .env file, then parses the environment into a
// Config.  A missing .env file is not an error; missing signing secrets
// are.
func Load() (Config, error) {
    if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
        return Config{}, fmt.Errorf("load .env: %w", err)
    }
    return Parse()
}

// Parse maps the current environment onto a Config and validates it.
func Parse() (Config, error) {
    var cfg Config
    if err := env.Parse(&cfg); err != nil {
        return Config{}, fmt.Errorf("parse env: %w", err)
    }
    cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
    if cfg.DBDriver != database.DriverMySQL && cfg.DBDriver != database.DriverSQLite {
        return Config{}, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", database.DriverMySQL, database.DriverSQLite, cfg.DBDriver)
    }
    if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
        return Config{}, errors.New("missing required env var: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be set")
    }
    if cfg.RequestTimeout <= 0 {
        cfg.RequestTimeout = 5 * time.Second
    }
    return cfg, nil
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
    if c.DBDriver == database.DriverSQLite {
        return database.SQLiteDSN(c.SQLitePath)
    }
    return database.MySQLDSN(c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
}

// TokenConfig returns the token service settings.
func (c Config) TokenConfig() auth.TokenConfig {
    return auth.TokenConfig{
        AccessSecret:  c.AccessSecret,
        RefreshSecret: c.RefreshSecret,
        AccessExpiry:  c.AccessExpiry,
        RefreshExpiry: c.RefreshExpiry,
    }
}

// NewLogger returns a JSON slog logger on stdout at the configured level.
func NewLogger(level string) *slog.Logger {
    var lvl slog.Level
    switch strings.ToLower(strings.TrimSpace(level)) {
    case "debug":
        lvl = slog.LevelDebug
    case "warn", "warning":
        lvl = slog.LevelWarn
    case "error":
        lvl = slog.LevelError
    default:
        lvl = slog.LevelInfo
    }
    return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
