package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendHTTP     = "http"

	GatewayDev    = "dev"
	GatewayStripe = "stripe"
)

// Config is the process configuration, read from CHECKOUT_* environment variables.
type Config struct {
	Server    ServerConfig
	Checkout  CheckoutConfig
	Gateway   GatewayConfig
	Inventory InventoryConfig
	Store     StoreConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type CheckoutConfig struct {
	DeliveryFees       map[string]int64
	DefaultDeliveryFee int64
	DeliveryFeesFile   string
	AutofillDebounce   time.Duration
	AdjustConcurrency  int
	CompletedTTL       time.Duration
	IdleTTL            time.Duration
}

type GatewayConfig struct {
	// Provider is "dev" (auto-approving in-process widget) or "stripe".
	Provider        string
	PublicKey       string
	SecretKey       string
	Currency        string
	MinorUnitFactor int64
	SuccessURL      string
	CancelURL       string
	PollInterval    time.Duration
	PendingTimeout  time.Duration
}

type InventoryConfig struct {
	// Backend is "memory" (seeded from Seed) or "http".
	Backend          string
	BaseURL          string
	Timeout          time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
	Seed             map[string]int
}

type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig enables the shared cart store when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CartTTL  time.Duration
}

// KafkaConfig enables forwarding of reconciliation events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type LogConfig struct {
	Service string
	Env     string
	Level   string
	File    string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

type Option func(*loaderOptions)

type loaderOptions struct {
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the
// process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

func Load(opts ...Option) (Config, error) {
	options := loaderOptions{useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := options.envMap[key]; ok {
			return v, true
		}
		if options.useSystemEnv {
			return os.LookupEnv(key)
		}
		return "", false
	}

	var invalid []string
	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "CHECKOUT_HTTP_PORT", "8080"),
			ReadTimeout:     durationWithDefault(lookup, "CHECKOUT_HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    durationWithDefault(lookup, "CHECKOUT_HTTP_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: durationWithDefault(lookup, "CHECKOUT_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Checkout: CheckoutConfig{
			DefaultDeliveryFee: int64(intWithDefault(lookup, "CHECKOUT_DEFAULT_DELIVERY_FEE", 0)),
			DeliveryFeesFile:   stringWithDefault(lookup, "CHECKOUT_DELIVERY_FEES_FILE", ""),
			AutofillDebounce:   durationWithDefault(lookup, "CHECKOUT_AUTOFILL_DEBOUNCE", 2*time.Second),
			AdjustConcurrency:  intWithDefault(lookup, "CHECKOUT_ADJUST_CONCURRENCY", 8),
			CompletedTTL:       durationWithDefault(lookup, "CHECKOUT_COMPLETED_TTL", 15*time.Minute),
			IdleTTL:            durationWithDefault(lookup, "CHECKOUT_IDLE_TTL", 2*time.Hour),
		},
		Gateway: GatewayConfig{
			Provider:        strings.ToLower(stringWithDefault(lookup, "CHECKOUT_GATEWAY_PROVIDER", GatewayDev)),
			PublicKey:       stringWithDefault(lookup, "CHECKOUT_GATEWAY_PUBLIC_KEY", ""),
			SecretKey:       stringWithDefault(lookup, "CHECKOUT_GATEWAY_SECRET_KEY", ""),
			Currency:        strings.ToUpper(stringWithDefault(lookup, "CHECKOUT_GATEWAY_CURRENCY", "NGN")),
			MinorUnitFactor: int64(intWithDefault(lookup, "CHECKOUT_GATEWAY_MINOR_UNIT_FACTOR", 100)),
			SuccessURL:      stringWithDefault(lookup, "CHECKOUT_GATEWAY_SUCCESS_URL", ""),
			CancelURL:       stringWithDefault(lookup, "CHECKOUT_GATEWAY_CANCEL_URL", ""),
			PollInterval:    durationWithDefault(lookup, "CHECKOUT_GATEWAY_POLL_INTERVAL", 2*time.Second),
			PendingTimeout:  durationWithDefault(lookup, "CHECKOUT_GATEWAY_PENDING_TIMEOUT", time.Hour),
		},
		Inventory: InventoryConfig{
			Backend:          strings.ToLower(stringWithDefault(lookup, "CHECKOUT_INVENTORY_BACKEND", BackendMemory)),
			BaseURL:          stringWithDefault(lookup, "CHECKOUT_INVENTORY_URL", ""),
			Timeout:          durationWithDefault(lookup, "CHECKOUT_INVENTORY_TIMEOUT", 5*time.Second),
			FailureThreshold: intWithDefault(lookup, "CHECKOUT_INVENTORY_BREAKER_FAILURES", 5),
			OpenTimeout:      durationWithDefault(lookup, "CHECKOUT_INVENTORY_BREAKER_OPEN", 30*time.Second),
		},
		Store: StoreConfig{
			Backend:         strings.ToLower(stringWithDefault(lookup, "CHECKOUT_STORE_BACKEND", BackendMemory)),
			DSN:             stringWithDefault(lookup, "CHECKOUT_DATABASE_URL", ""),
			MaxOpenConns:    intWithDefault(lookup, "CHECKOUT_DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    intWithDefault(lookup, "CHECKOUT_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: durationWithDefault(lookup, "CHECKOUT_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "CHECKOUT_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "CHECKOUT_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "CHECKOUT_REDIS_DB", 0),
			CartTTL:  durationWithDefault(lookup, "CHECKOUT_CART_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: csvWithDefault(lookup, "CHECKOUT_KAFKA_BROKERS"),
			Topic:   stringWithDefault(lookup, "CHECKOUT_KAFKA_TOPIC", "checkout.reconciliation"),
		},
		Log: LogConfig{
			Service: stringWithDefault(lookup, "SERVICE_NAME", "minishop-checkout"),
			Env:     stringWithDefault(lookup, "ENV", "dev"),
			Level:   stringWithDefault(lookup, "CHECKOUT_LOG_LEVEL", "info"),
			File:    stringWithDefault(lookup, "CHECKOUT_LOG_FILE", ""),
		},
	}

	fees, ok := int64Map(lookup, "CHECKOUT_DELIVERY_FEES")
	if !ok {
		invalid = append(invalid, "Checkout.DeliveryFees")
	}
	cfg.Checkout.DeliveryFees = make(map[string]int64, len(fees))
	for region, fee := range fees {
		cfg.Checkout.DeliveryFees[strings.ToLower(region)] = fee
	}
	seed, ok := intMap(lookup, "CHECKOUT_INVENTORY_SEED")
	if !ok {
		invalid = append(invalid, "Inventory.Seed")
	}
	cfg.Inventory.Seed = seed

	if path := cfg.Checkout.DeliveryFeesFile; path != "" {
		file, err := loadFeeFile(path)
		if err != nil {
			return Config{}, err
		}
		for region, fee := range file.Regions {
			region = strings.ToLower(strings.TrimSpace(region))
			if _, set := cfg.Checkout.DeliveryFees[region]; !set {
				cfg.Checkout.DeliveryFees[region] = fee
			}
		}
		if _, set := lookup("CHECKOUT_DEFAULT_DELIVERY_FEE"); !set && file.Default != nil {
			cfg.Checkout.DefaultDeliveryFee = *file.Default
		}
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// feeFile is the YAML layout of CHECKOUT_DELIVERY_FEES_FILE:
//
//	default: 3500
//	regions:
//	  lagos: 2000
type feeFile struct {
	Default *int64           `yaml:"default"`
	Regions map[string]int64 `yaml:"regions"`
}

func loadFeeFile(path string) (feeFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return feeFile{}, fmt.Errorf("config: read delivery fees: %w", err)
	}
	var f feeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return feeFile{}, fmt.Errorf("config: parse delivery fees %s: %w", path, err)
	}
	return f, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Checkout.DefaultDeliveryFee < 0 {
		missing = append(missing, "Checkout.DefaultDeliveryFee")
	}
	for region, fee := range cfg.Checkout.DeliveryFees {
		if fee < 0 {
			missing = append(missing, "Checkout.DeliveryFees."+region)
		}
	}
	if cfg.Gateway.Currency == "" {
		missing = append(missing, "Gateway.Currency")
	}
	if cfg.Gateway.MinorUnitFactor <= 0 {
		missing = append(missing, "Gateway.MinorUnitFactor")
	}
	switch cfg.Gateway.Provider {
	case GatewayDev:
	case GatewayStripe:
		if cfg.Gateway.SecretKey == "" {
			missing = append(missing, "Gateway.SecretKey")
		}
		if cfg.Gateway.SuccessURL == "" {
			missing = append(missing, "Gateway.SuccessURL")
		}
	default:
		missing = append(missing, "Gateway.Provider")
	}
	switch cfg.Inventory.Backend {
	case BackendMemory:
	case BackendHTTP:
		if cfg.Inventory.BaseURL == "" {
			missing = append(missing, "Inventory.BaseURL")
		}
	default:
		missing = append(missing, "Inventory.Backend")
	}
	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.Store.DSN == "" {
			missing = append(missing, "Store.DSN")
		}
	default:
		missing = append(missing, "Store.Backend")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// int64Map parses "lagos=2000,abuja=2500". ok is false on a malformed entry.
func int64Map(lookup func(string) (string, bool), key string) (map[string]int64, bool) {
	out := make(map[string]int64)
	for _, entry := range csvWithDefault(lookup, key) {
		name, raw, found := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if !found || name == "" || err != nil {
			return out, false
		}
		out[name] = v
	}
	return out, true
}

func intMap(lookup func(string) (string, bool), key string) (map[string]int, bool) {
	wide, ok := int64Map(lookup, key)
	out := make(map[string]int, len(wide))
	for k, v := range wide {
		out[k] = int(v)
	}
	return out, ok
}
