// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
	AllowedOrigins       []string      // WS origins; empty = allow all
}

// DBConfig holds PostgreSQL connection settings. Only used by the postgres
// ledger backend.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
	MigrationsDir   string        // default "migrations"
}

// JWTConfig holds JWT signing settings.
type JWTConfig struct {
	Secret    string        // must be set
	AccessTTL time.Duration // default 15m
}

// LedgerConfig selects where balances and market state are kept.
type LedgerConfig struct {
	Backend  string // "memory" | "bolt" | "postgres"
	BoltPath string // default "data/brokerbot.db"
}

// MarketMakerConfig is the construction config of the market maker. Price,
// increment, flags and router only seed a fresh ledger.
type MarketMakerConfig struct {
	Address        string
	ShareToken     string
	PaymentToken   string
	Authority      string
	PaymentRouter  string // "" disables router notifications
	Price          decimal.Decimal
	Increment      decimal.Decimal
	BuyingEnabled  bool
	SellingEnabled bool
	SeedShares     decimal.Decimal // minted to the market maker on an empty ledger
	SeedPayment    decimal.Decimal
}

// AdminConfig holds the authority login.
type AdminConfig struct {
	PasswordHash string // bcrypt hash; "" disables POST /api/auth/login
}

// BroadcastConfig holds WS push settings.
type BroadcastConfig struct {
	QuoteInterval time.Duration // default 1s
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server      ServerConfig
	DB          DBConfig
	JWT         JWTConfig
	Ledger      LedgerConfig
	MarketMaker MarketMakerConfig
	Admin       AdminConfig
	Broadcast   BroadcastConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}

	switch c.Ledger.Backend {
	case "memory", "bolt":
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN must be set for the postgres ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND must be memory, bolt or postgres, got %q", c.Ledger.Backend))
	}
	if c.IsProd() && c.Ledger.Backend == "memory" {
		errs = append(errs, errors.New("LEDGER_BACKEND=memory is not allowed in production"))
	}

	mm := c.MarketMaker
	for _, a := range []struct{ name, value string }{
		{"MM_ADDRESS", mm.Address},
		{"MM_SHARE_TOKEN", mm.ShareToken},
		{"MM_PAYMENT_TOKEN", mm.PaymentToken},
		{"MM_AUTHORITY", mm.Authority},
	} {
		if !common.IsHexAddress(a.value) {
			errs = append(errs, fmt.Errorf("%s must be a hex address, got %q", a.name, a.value))
		}
	}
	if mm.PaymentRouter != "" && !common.IsHexAddress(mm.PaymentRouter) {
		errs = append(errs, fmt.Errorf("MM_PAYMENT_ROUTER must be a hex address, got %q", mm.PaymentRouter))
	}
	if mm.Price.IsNegative() || !mm.Price.IsInteger() {
		errs = append(errs, fmt.Errorf("MM_PRICE must be a non-negative whole number, got %s", mm.Price))
	}
	if !mm.Increment.IsInteger() {
		errs = append(errs, fmt.Errorf("MM_INCREMENT must be a whole number, got %s", mm.Increment))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails. Call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads a fresh Config from the environment without caching it.
func Load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:                 getEnv("SERVER_PORT", "8080"),
		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		ReadTimeout:          getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:         getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
		AllowedOrigins:       getList("WS_ALLOWED_ORIGINS"),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" && os.Getenv("DB_HOST") != "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "brokerbot"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		MigrationsDir:   getEnv("DB_MIGRATIONS_DIR", "migrations"),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		Secret:    getEnv("JWT_SECRET", ""),
		AccessTTL: getDuration("JWT_ACCESS_TTL", 15*time.Minute),
	}

	// ── Ledger ────────────────────────────────────────────────────────────────
	cfg.Ledger = LedgerConfig{
		Backend:  getEnv("LEDGER_BACKEND", "bolt"),
		BoltPath: getEnv("LEDGER_BOLT_PATH", "data/brokerbot.db"),
	}

	// ── Market Maker ──────────────────────────────────────────────────────────
	price, err := getDecimal("MM_PRICE", decimal.NewFromInt(1_000_000))
	if err != nil {
		return nil, fmt.Errorf("MM_PRICE: %w", err)
	}
	increment, err := getDecimal("MM_INCREMENT", decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("MM_INCREMENT: %w", err)
	}
	buying, err := getBool("MM_BUYING_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("MM_BUYING_ENABLED: %w", err)
	}
	selling, err := getBool("MM_SELLING_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("MM_SELLING_ENABLED: %w", err)
	}
	seedShares, err := getDecimal("MM_SEED_SHARES", decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("MM_SEED_SHARES: %w", err)
	}
	seedPayment, err := getDecimal("MM_SEED_PAYMENT", decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("MM_SEED_PAYMENT: %w", err)
	}

	cfg.MarketMaker = MarketMakerConfig{
		Address:        getEnv("MM_ADDRESS", ""),
		ShareToken:     getEnv("MM_SHARE_TOKEN", ""),
		PaymentToken:   getEnv("MM_PAYMENT_TOKEN", ""),
		Authority:      getEnv("MM_AUTHORITY", ""),
		PaymentRouter:  getEnv("MM_PAYMENT_ROUTER", ""),
		Price:          price,
		Increment:      increment,
		BuyingEnabled:  buying,
		SellingEnabled: selling,
		SeedShares:     seedShares,
		SeedPayment:    seedPayment,
	}

	// ── Admin / Broadcast ─────────────────────────────────────────────────────
	cfg.Admin = AdminConfig{
		PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
	}
	cfg.Broadcast = BroadcastConfig{
		QuoteInterval: getDuration("QUOTE_BROADCAST_INTERVAL", time.Second),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}

// getDecimal parses an env var as an exact decimal amount.
func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", v)
	}
	return d, nil
}

// getList splits a comma-separated env var, dropping empty entries.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Log warning and fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}
