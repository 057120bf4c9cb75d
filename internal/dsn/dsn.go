// Package dsn parses the ddbsql connection-URL surface (spec.md §6) into a
// typed, validated Config. It replaces the teacher's internal/config package
// (an HTTP-server/Lambda configuration struct with no counterpart in a
// driver) but keeps the teacher's idiom of validator-tagged struct fields
// with sane defaults applied in a WithDefaults-style constructor
// (internal/config/config.go, internal/repository/config.go).
package dsn

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// CredentialsType selects how AWS credentials are resolved.
type CredentialsType string

const (
	CredentialsStatic  CredentialsType = "STATIC"
	CredentialsProfile CredentialsType = "PROFILE"
	CredentialsDefault CredentialsType = "DEFAULT"
)

// SchemaDiscoveryMode selects how column metadata is produced.
type SchemaDiscoveryMode string

const (
	DiscoveryAuto     SchemaDiscoveryMode = "AUTO"
	DiscoveryHints    SchemaDiscoveryMode = "HINTS"
	DiscoverySampling SchemaDiscoveryMode = "SAMPLING"
	DiscoveryDisabled SchemaDiscoveryMode = "DISABLED"
)

// SampleStrategy selects the sampler's scan pattern (C6).
type SampleStrategy string

const (
	SampleRandom     SampleStrategy = "RANDOM"
	SampleSequential SampleStrategy = "SEQUENTIAL"
	SampleAuto       SampleStrategy = "AUTO"
)

// LazyLoadingStrategy selects the C8 loading strategy.
type LazyLoadingStrategy string

const (
	LazyImmediate  LazyLoadingStrategy = "IMMEDIATE"
	LazyBackground LazyLoadingStrategy = "BACKGROUND"
	LazyCachedOnly LazyLoadingStrategy = "CACHED_ONLY"
	LazyPredictive LazyLoadingStrategy = "PREDICTIVE"
)

// Config is the fully parsed, defaulted, validated connection configuration.
type Config struct {
	Region          string          `validate:"required"`
	Endpoint        string          `validate:"omitempty,url"`
	CredentialsType CredentialsType `validate:"required,oneof=STATIC PROFILE DEFAULT"`
	AccessKey       string
	SecretKey       string
	SessionToken    string
	ProfileName     string

	APICallTimeout        time.Duration `validate:"required,min=1ms"`
	APICallAttemptTimeout time.Duration `validate:"required,min=1ms"`
	DefaultFetchSize      int           `validate:"min=1"`
	DefaultMaxRows        int           `validate:"min=0"`

	RetryMaxAttempts  int           `validate:"min=0"`
	RetryBaseDelay    time.Duration `validate:"required,min=1ms"`
	RetryMaxDelay     time.Duration `validate:"required,min=1ms"`
	RetryJitterEnabled bool

	SchemaDiscovery              SchemaDiscoveryMode `validate:"required,oneof=AUTO HINTS SAMPLING DISABLED"`
	SampleSize                   int                 `validate:"min=1"`
	SampleStrategy               SampleStrategy      `validate:"required,oneof=RANDOM SEQUENTIAL AUTO"`
	SchemaCacheEnabled           bool
	SchemaCacheTTL               time.Duration `validate:"required,min=1s"`
	SchemaCacheRefreshInterval   time.Duration `validate:"required,min=1s"`
	ConcurrentSchemaDiscovery    bool
	MaxConcurrentSchemaDiscoveries int `validate:"min=1"`
	LazyLoadingStrategy          LazyLoadingStrategy `validate:"required,oneof=IMMEDIATE BACKGROUND CACHED_ONLY PREDICTIVE"`
	LazyLoadingCacheTTL          time.Duration       `validate:"required,min=1s"`
	LazyLoadingMaxCacheSize      int                 `validate:"min=1"`
	PredictiveSchemaLoading      bool

	OffsetCacheEnabled    bool
	OffsetCacheSize       int           `validate:"min=1"`
	OffsetCacheInterval   int           `validate:"min=1"`
	OffsetCacheTTL        time.Duration `validate:"required,min=1s"`

	PoolMinSize        int           `validate:"min=0"`
	PoolMaxSize        int           `validate:"required,min=1"`
	PoolInitialSize    int           `validate:"min=0"`
	PoolIdleTimeout    time.Duration `validate:"required,min=1s"`
	PoolMaxLifetime    time.Duration `validate:"required,min=1s"`
	PoolTestOnBorrow   bool
	PoolTestOnReturn   bool
	PoolTestWhileIdle  bool

	TableFilter string
}

// Defaults mirrors spec.md §4 defaults, and the teacher's WithDefaults idiom.
func Defaults() Config {
	return Config{
		CredentialsType:                CredentialsDefault,
		APICallTimeout:                 30 * time.Second,
		APICallAttemptTimeout:          10 * time.Second,
		DefaultFetchSize:               100,
		DefaultMaxRows:                 0,
		RetryMaxAttempts:               3,
		RetryBaseDelay:                 100 * time.Millisecond,
		RetryMaxDelay:                  20 * time.Second,
		RetryJitterEnabled:             true,
		SchemaDiscovery:                DiscoveryAuto,
		SampleSize:                     100,
		SampleStrategy:                 SampleAuto,
		SchemaCacheEnabled:             true,
		SchemaCacheTTL:                 3600 * time.Second,
		SchemaCacheRefreshInterval:     300 * time.Second,
		ConcurrentSchemaDiscovery:      true,
		MaxConcurrentSchemaDiscoveries: 2,
		LazyLoadingStrategy:            LazyImmediate,
		LazyLoadingCacheTTL:            3600 * time.Second,
		LazyLoadingMaxCacheSize:        1000,
		PredictiveSchemaLoading:        false,
		OffsetCacheEnabled:             true,
		OffsetCacheSize:                100,
		OffsetCacheInterval:            100,
		OffsetCacheTTL:                 3600 * time.Second,
		PoolMinSize:                    1,
		PoolMaxSize:                    10,
		PoolInitialSize:                1,
		PoolIdleTimeout:                5 * time.Minute,
		PoolMaxLifetime:                30 * time.Minute,
		PoolTestOnBorrow:               true,
		PoolTestOnReturn:               false,
		PoolTestWhileIdle:              true,
	}
}

var validate = validator.New()

// Validate runs struct-tag validation the way internal/config/config.go does.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("dsn: invalid config: %w", err)
	}
	if c.CredentialsType == CredentialsStatic && (c.AccessKey == "" || c.SecretKey == "") {
		return fmt.Errorf("dsn: STATIC credentials require accessKey and secretKey")
	}
	if c.CredentialsType == CredentialsProfile && c.ProfileName == "" {
		return fmt.Errorf("dsn: PROFILE credentials require profileName")
	}
	return nil
}

// Parse parses a connection URL of the form
// "<prefix>:<k=v>(;<k=v>)*;" into a validated Config, applying spec.md §6
// defaults and environment fallbacks for region. Malformed integer/duration
// properties fall back to the default with a logged warning rather than
// failing the whole parse, matching the teacher's "ignore and default with a
// log line" approach to optional config.
func Parse(rawURL string, logger *zap.Logger) (Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := Defaults()

	props, err := tokenize(rawURL)
	if err != nil {
		return Config{}, err
	}

	cfg.Region = firstNonEmpty(props["region"], os.Getenv("AWS_DEFAULT_REGION"), os.Getenv("AWS_REGION"))
	cfg.Endpoint = props["endpoint"]

	if v, ok := props["credentialsType"]; ok {
		cfg.CredentialsType = CredentialsType(strings.ToUpper(v))
	}
	cfg.AccessKey = props["accessKey"]
	cfg.SecretKey = props["secretKey"]
	cfg.SessionToken = props["sessionToken"]
	cfg.ProfileName = props["profileName"]

	setMillis(&cfg.APICallTimeout, props, "apiCallTimeoutMs", logger)
	setMillis(&cfg.APICallAttemptTimeout, props, "apiCallAttemptTimeoutMs", logger)
	setInt(&cfg.DefaultFetchSize, props, "defaultFetchSize", logger)
	setInt(&cfg.DefaultMaxRows, props, "defaultMaxRows", logger)

	setInt(&cfg.RetryMaxAttempts, props, "retryMaxAttempts", logger)
	setMillis(&cfg.RetryBaseDelay, props, "retryBaseDelayMs", logger)
	setMillis(&cfg.RetryMaxDelay, props, "retryMaxDelayMs", logger)
	setBool(&cfg.RetryJitterEnabled, props, "retryJitterEnabled", logger)

	if v, ok := props["schemaDiscovery"]; ok {
		cfg.SchemaDiscovery = SchemaDiscoveryMode(strings.ToUpper(v))
	}
	setInt(&cfg.SampleSize, props, "sampleSize", logger)
	if v, ok := props["sampleStrategy"]; ok {
		cfg.SampleStrategy = SampleStrategy(strings.ToUpper(v))
	}
	setBool(&cfg.SchemaCacheEnabled, props, "schemaCache", logger)
	setSeconds(&cfg.SchemaCacheTTL, props, "schemaCacheTTL", logger)
	setMillis(&cfg.SchemaCacheRefreshInterval, props, "schemaCacheRefreshIntervalMs", logger)
	setBool(&cfg.ConcurrentSchemaDiscovery, props, "concurrentSchemaDiscovery", logger)
	setInt(&cfg.MaxConcurrentSchemaDiscoveries, props, "maxConcurrentSchemaDiscoveries", logger)
	if v, ok := props["lazyLoadingStrategy"]; ok {
		cfg.LazyLoadingStrategy = LazyLoadingStrategy(strings.ToUpper(v))
	}
	setSeconds(&cfg.LazyLoadingCacheTTL, props, "lazyLoadingCacheTTL", logger)
	setInt(&cfg.LazyLoadingMaxCacheSize, props, "lazyLoadingMaxCacheSize", logger)
	setBool(&cfg.PredictiveSchemaLoading, props, "predictiveSchemaLoading", logger)

	setBool(&cfg.OffsetCacheEnabled, props, "offsetCacheEnabled", logger)
	setInt(&cfg.OffsetCacheSize, props, "offsetCacheSize", logger)
	setInt(&cfg.OffsetCacheInterval, props, "offsetCacheInterval", logger)
	setSeconds(&cfg.OffsetCacheTTL, props, "offsetCacheTtlSeconds", logger)

	setInt(&cfg.PoolMinSize, props, "pool.minSize", logger)
	setInt(&cfg.PoolMaxSize, props, "pool.maxSize", logger)
	setInt(&cfg.PoolInitialSize, props, "pool.initialSize", logger)
	setSeconds(&cfg.PoolIdleTimeout, props, "pool.idleTimeout", logger)
	setSeconds(&cfg.PoolMaxLifetime, props, "pool.maxLifetime", logger)
	setBool(&cfg.PoolTestOnBorrow, props, "pool.testOnBorrow", logger)
	setBool(&cfg.PoolTestOnReturn, props, "pool.testOnReturn", logger)
	setBool(&cfg.PoolTestWhileIdle, props, "pool.testWhileIdle", logger)

	cfg.TableFilter = props["tableFilter"]

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// tokenize splits "<prefix>:<k=v>(;<k=v>)*;" into a property map. Unknown
// keys are ignored silently per spec.md §6.
func tokenize(rawURL string) (map[string]string, error) {
	idx := strings.Index(rawURL, ":")
	if idx < 0 {
		return nil, fmt.Errorf("dsn: missing prefix separator in %q", rawURL)
	}
	body := rawURL[idx+1:]
	props := make(map[string]string)
	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		props[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return props, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func setInt(dst *int, props map[string]string, key string, logger *zap.Logger) {
	v, ok := props[key]
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("ignoring malformed integer property, using default", zap.String("key", key), zap.String("value", v))
		return
	}
	*dst = n
}

func setBool(dst *bool, props map[string]string, key string, logger *zap.Logger) {
	v, ok := props[key]
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("ignoring malformed boolean property, using default", zap.String("key", key), zap.String("value", v))
		return
	}
	*dst = b
}

func setMillis(dst *time.Duration, props map[string]string, key string, logger *zap.Logger) {
	v, ok := props[key]
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("ignoring malformed duration property, using default", zap.String("key", key), zap.String("value", v))
		return
	}
	*dst = time.Duration(n) * time.Millisecond
}

func setSeconds(dst *time.Duration, props map[string]string, key string, logger *zap.Logger) {
	v, ok := props[key]
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("ignoring malformed duration property, using default", zap.String("key", key), zap.String("value", v))
		return
	}
	*dst = time.Duration(n) * time.Second
}
