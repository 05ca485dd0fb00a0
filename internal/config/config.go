// Package config loads service configuration.
//
// Layers, lowest first: built-in defaults, an optional YAML file (--config or
// STREAM_CONFIG), STREAM_* environment variables, command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultVaultSeed is the seed the vault address is derived from.
const DefaultVaultSeed = "stream-vault"

// Config holds every setting of the ledger service.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	UseMemory     bool   `yaml:"use_memory"`
	Migrate       bool   `yaml:"migrate"`

	Admin      string `yaml:"admin"`
	VaultSeed  string `yaml:"vault_seed"`
	InitialFee uint8  `yaml:"initial_fee"`
	// AdminToken, when set, must accompany every admin request in the
	// X-Admin-Token header.
	AdminToken string `yaml:"admin_token"`

	OracleRPC     string            `yaml:"oracle_rpc"`
	OracleWS      string            `yaml:"oracle_ws"`
	OracleTokens  []string          `yaml:"oracle_tokens"`
	OracleTimeout time.Duration     `yaml:"oracle_timeout"`
	StaticRates   map[string]string `yaml:"static_rates"`

	NATSURL      string   `yaml:"nats_url"`
	NATSSubject  string   `yaml:"nats_subject"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	// Tokens are registered at startup when missing. Intended for dev setups.
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig describes a token to register at startup.
type TokenConfig struct {
	ID       string `yaml:"id"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		HTTPAddr:      ":8080",
		MetricsAddr:   ":9090",
		VaultSeed:     DefaultVaultSeed,
		OracleTimeout: 10 * time.Second,
		NATSSubject:   "streams.events",
		KafkaTopic:    "stream-events",
	}
}

// Load builds a Config from args (without the program name) and getenv.
func Load(name string, args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	path := configPath(args)
	if path == "" {
		path = getenv("STREAM_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", path, "YAML config file")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "API HTTP address")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics HTTP address (empty to serve on the API address only)")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	fs.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string for the event journal")
	fs.BoolVar(&cfg.UseMemory, "use-memory", cfg.UseMemory, "Use in-memory storage instead of PostgreSQL")
	fs.BoolVar(&cfg.Migrate, "migrate", cfg.Migrate, "Apply migrations on startup")
	fs.StringVar(&cfg.Admin, "admin", cfg.Admin, "Admin address (base58)")
	fs.StringVar(&cfg.VaultSeed, "vault-seed", cfg.VaultSeed, "Seed the vault address is derived from")
	fs.StringVar(&cfg.AdminToken, "admin-token", cfg.AdminToken, "Shared secret required on admin routes (empty disables the check)")
	fee := fs.Uint("initial-fee", uint(cfg.InitialFee), "Fee percent applied at startup in memory mode")
	fs.StringVar(&cfg.OracleRPC, "oracle-rpc", cfg.OracleRPC, "Exchange-rate oracle JSON-RPC endpoint")
	fs.StringVar(&cfg.OracleWS, "oracle-ws", cfg.OracleWS, "Exchange-rate oracle WebSocket endpoint")
	oracleTokens := fs.String("oracle-tokens", strings.Join(cfg.OracleTokens, ","), "Comma-separated tokens to subscribe on the oracle feed")
	fs.DurationVar(&cfg.OracleTimeout, "oracle-timeout", cfg.OracleTimeout, "Oracle request timeout")
	rates := fs.String("static-rates", formatRates(cfg.StaticRates), "Comma-separated token=rate pairs for a static oracle")
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server URL for event publishing")
	fs.StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "NATS subject prefix")
	brokers := fs.String("kafka-brokers", strings.Join(cfg.KafkaBrokers, ","), "Comma-separated Kafka brokers for event publishing")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", cfg.KafkaTopic, "Kafka topic")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *fee > 255 {
		return nil, fmt.Errorf("--initial-fee out of range: %d", *fee)
	}
	cfg.InitialFee = uint8(*fee)
	cfg.OracleTokens = splitList(*oracleTokens)
	cfg.KafkaBrokers = splitList(*brokers)
	parsed, err := parseRates(*rates)
	if err != nil {
		return nil, err
	}
	cfg.StaticRates = parsed

	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if !c.UseMemory && c.PostgresDSN == "" {
		return errors.New("--postgres-dsn is required unless --use-memory")
	}
	if c.Admin == "" {
		return errors.New("--admin is required")
	}
	if c.VaultSeed == "" {
		return errors.New("--vault-seed must not be empty")
	}
	if c.InitialFee > 100 {
		return fmt.Errorf("--initial-fee must be 0-100, got %d", c.InitialFee)
	}
	if c.OracleWS != "" && len(c.OracleTokens) == 0 {
		return errors.New("--oracle-tokens is required with --oracle-ws")
	}
	if c.OracleTimeout <= 0 {
		return errors.New("--oracle-timeout must be positive")
	}
	if _, err := c.Rates(); err != nil {
		return err
	}
	for _, t := range c.Tokens {
		if t.ID == "" {
			return errors.New("tokens: id is required")
		}
	}
	return nil
}

// Rates returns StaticRates parsed as integers scaled by 1e18.
func (c *Config) Rates() (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(c.StaticRates))
	for token, raw := range c.StaticRates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("static rate for %s: %w", token, err)
		}
		if !rate.IsInteger() || !rate.IsPositive() {
			return nil, fmt.Errorf("static rate for %s must be a positive integer, got %s", token, raw)
		}
		result[token] = rate
	}
	return result, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("STREAM_HTTP_ADDR", &c.HTTPAddr)
	str("STREAM_METRICS_ADDR", &c.MetricsAddr)
	str("STREAM_POSTGRES_DSN", &c.PostgresDSN)
	str("STREAM_CLICKHOUSE_DSN", &c.ClickhouseDSN)
	str("STREAM_ADMIN", &c.Admin)
	str("STREAM_VAULT_SEED", &c.VaultSeed)
	str("STREAM_ADMIN_TOKEN", &c.AdminToken)
	str("STREAM_ORACLE_RPC", &c.OracleRPC)
	str("STREAM_ORACLE_WS", &c.OracleWS)
	str("STREAM_NATS_URL", &c.NATSURL)
	str("STREAM_NATS_SUBJECT", &c.NATSSubject)
	str("STREAM_KAFKA_TOPIC", &c.KafkaTopic)

	if v := getenv("STREAM_USE_MEMORY"); v != "" {
		c.UseMemory = v == "1" || strings.EqualFold(v, "true")
	}
	if v := getenv("STREAM_ORACLE_TOKENS"); v != "" {
		c.OracleTokens = splitList(v)
	}
	if v := getenv("STREAM_KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitList(v)
	}
	if v := getenv("STREAM_STATIC_RATES"); v != "" {
		rates, err := parseRates(v)
		if err != nil {
			return err
		}
		c.StaticRates = rates
	}
	return nil
}

// configPath finds --config without parsing the remaining flags.
func configPath(args []string) string {
	for i, arg := range args {
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func splitList(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func parseRates(s string) (map[string]string, error) {
	result := make(map[string]string)
	for _, pair := range splitList(s) {
		token, rate, ok := strings.Cut(pair, "=")
		if !ok || token == "" || rate == "" {
			return nil, fmt.Errorf("invalid static rate %q, want token=rate", pair)
		}
		result[strings.TrimSpace(token)] = strings.TrimSpace(rate)
	}
	return result, nil
}

func formatRates(rates map[string]string) string {
	pairs := make([]string, 0, len(rates))
	for token, rate := range rates {
		pairs = append(pairs, token+"="+rate)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
