package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultActivationThreshold = 0.75
	defaultMaxCascadeDepth     = 3
	defaultTriggerDelay        = 5 * time.Second
	defaultPendingExpiry       = 24 * time.Hour
	defaultPriceAdjustmentCap  = 0.30
	defaultSnapshotTTL         = 30 * time.Minute
	defaultRuleCacheTTL        = 10 * time.Minute
	defaultOutcomeInterval     = time.Hour
	defaultOutcomeMinSamples   = 10
	defaultOutcomeTolerance    = 0.1
	defaultPriceStep           = 0.05
	defaultPriceFloorRatio     = 0.8
	defaultPriceCeilingRatio   = 1.3
	defaultPricingTablesPath   = "configs/pricing_tables.yaml"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Firestore FirestoreConfig
	Redis     RedisConfig
	PubSub    PubSubConfig
	Engine    EngineConfig
	Pricing   PricingConfig
	Outcome   OutcomeConfig
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig stores cache connection parameters. An empty Addr disables
// Redis and the engine falls back to the in-process cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PubSubConfig names the topics and subscription the engine is wired to.
type PubSubConfig struct {
	ProjectID         string
	OrderCompletedSub string
	CustomerTopic     string
	AdminTopic        string
}

// EngineConfig holds the cascade decision parameters. These are explicit
// knobs passed into the orchestrator, never read from the environment at
// decision time.
type EngineConfig struct {
	ActivationThreshold float64
	MaxCascadeDepth     int
	TriggerDelay        time.Duration
	PendingExpiry       time.Duration
	SnapshotTTL         time.Duration
	RuleCacheTTL        time.Duration
}

// PricingConfig holds the pricing bounds and the factor-table source.
type PricingConfig struct {
	AdjustmentCap float64
	TablesPath    string
}

// OutcomeConfig controls the outcome-driven adjustment loop.
type OutcomeConfig struct {
	Interval          time.Duration
	MinSamples        int
	Tolerance         float64
	PriceStep         float64
	PriceFloorRatio   float64
	PriceCeilingRatio float64
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the dotenv file consulted during loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap supplies explicit values taking precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables system environment lookups, mainly for tests.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the engine configuration by combining defaults, .env
// overrides, and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ENGINE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "ENGINE_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "ENGINE_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "ENGINE_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "ENGINE_REDIS_DB", 0),
		},
		PubSub: PubSubConfig{
			ProjectID:         stringWithDefault(lookup, "ENGINE_PUBSUB_PROJECT_ID", ""),
			OrderCompletedSub: stringWithDefault(lookup, "ENGINE_PUBSUB_ORDER_COMPLETED_SUB", "order-completed"),
			CustomerTopic:     stringWithDefault(lookup, "ENGINE_PUBSUB_CUSTOMER_TOPIC", "service-recommended"),
			AdminTopic:        stringWithDefault(lookup, "ENGINE_PUBSUB_ADMIN_TOPIC", "cascade-triggered"),
		},
		Engine: EngineConfig{
			ActivationThreshold: floatWithDefault(lookup, "ENGINE_ACTIVATION_THRESHOLD", defaultActivationThreshold),
			MaxCascadeDepth:     intWithDefault(lookup, "ENGINE_MAX_CASCADE_DEPTH", defaultMaxCascadeDepth),
			TriggerDelay:        durationWithDefault(lookup, "ENGINE_TRIGGER_DELAY", defaultTriggerDelay),
			PendingExpiry:       durationWithDefault(lookup, "ENGINE_PENDING_EXPIRY", defaultPendingExpiry),
			SnapshotTTL:         durationWithDefault(lookup, "ENGINE_SNAPSHOT_TTL", defaultSnapshotTTL),
			RuleCacheTTL:        durationWithDefault(lookup, "ENGINE_RULE_CACHE_TTL", defaultRuleCacheTTL),
		},
		Pricing: PricingConfig{
			AdjustmentCap: floatWithDefault(lookup, "ENGINE_PRICE_ADJUSTMENT_CAP", defaultPriceAdjustmentCap),
			TablesPath:    stringWithDefault(lookup, "ENGINE_PRICING_TABLES_PATH", defaultPricingTablesPath),
		},
		Outcome: OutcomeConfig{
			Interval:          durationWithDefault(lookup, "ENGINE_OUTCOME_INTERVAL", defaultOutcomeInterval),
			MinSamples:        intWithDefault(lookup, "ENGINE_OUTCOME_MIN_SAMPLES", defaultOutcomeMinSamples),
			Tolerance:         floatWithDefault(lookup, "ENGINE_OUTCOME_TOLERANCE", defaultOutcomeTolerance),
			PriceStep:         floatWithDefault(lookup, "ENGINE_OUTCOME_PRICE_STEP", defaultPriceStep),
			PriceFloorRatio:   floatWithDefault(lookup, "ENGINE_OUTCOME_PRICE_FLOOR", defaultPriceFloorRatio),
			PriceCeilingRatio: floatWithDefault(lookup, "ENGINE_OUTCOME_PRICE_CEILING", defaultPriceCeilingRatio),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.Engine.ActivationThreshold < 0 || cfg.Engine.ActivationThreshold > 1 {
		return fmt.Errorf("config: activation threshold %.2f out of [0,1]", cfg.Engine.ActivationThreshold)
	}
	if cfg.Engine.MaxCascadeDepth < 1 {
		return fmt.Errorf("config: max cascade depth must be at least 1, got %d", cfg.Engine.MaxCascadeDepth)
	}
	if cfg.Engine.TriggerDelay < 0 {
		return errors.New("config: trigger delay cannot be negative")
	}
	if cfg.Pricing.AdjustmentCap <= 0 || cfg.Pricing.AdjustmentCap >= 1 {
		return fmt.Errorf("config: price adjustment cap %.2f out of (0,1)", cfg.Pricing.AdjustmentCap)
	}
	if cfg.Outcome.MinSamples < 1 {
		return fmt.Errorf("config: outcome min samples must be positive, got %d", cfg.Outcome.MinSamples)
	}
	if cfg.Outcome.Tolerance <= 0 || cfg.Outcome.Tolerance >= 1 {
		return fmt.Errorf("config: outcome tolerance %.2f out of (0,1)", cfg.Outcome.Tolerance)
	}
	if cfg.Outcome.PriceFloorRatio <= 0 || cfg.Outcome.PriceFloorRatio >= cfg.Outcome.PriceCeilingRatio {
		return fmt.Errorf("config: price bounds [%.2f, %.2f] are not an interval", cfg.Outcome.PriceFloorRatio, cfg.Outcome.PriceCeilingRatio)
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
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
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
