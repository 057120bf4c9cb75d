// Package ddbsql implements a database/sql/driver.Driver that adapts Amazon
// DynamoDB's PartiQL surface to Go's standard relational database client
// interface. Register with database/sql under the name "ddbsql" and open
// with a connection URL in the form documented by package dsn.
//
// The driver.Conn/Stmt/Rows/Tx surface here is intentionally the minimal set
// database/sql actually calls — the many optional interfaces
// (driver.NamedValueChecker, driver.SessionResetter, and similar) are left
// unimplemented where the default behavior already matches this driver's
// semantics, the same "hundreds of trivial getters/setters are out of
// scope" carve-out a JDBC driver spec would make for its own boilerplate
// surface.
package ddbsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/ddbsql/ddbsql/internal/dsn"
	"github.com/ddbsql/ddbsql/internal/executor"
	"github.com/ddbsql/ddbsql/internal/observability"
	"github.com/ddbsql/ddbsql/internal/offsetcache"
	"github.com/ddbsql/ddbsql/internal/pool"
	"github.com/ddbsql/ddbsql/internal/remote"
	"github.com/ddbsql/ddbsql/internal/retryengine"
	"github.com/ddbsql/ddbsql/internal/schema"
)

func init() {
	sql.Register("ddbsql", &Driver{})
}

// Driver is the database/sql/driver.Driver implementation.
type Driver struct{}

// Open parses name as a connection URL and returns a live connection,
// building and discarding a one-shot Connector. Prefer OpenConnector (via
// sql.OpenDB) in new code — it builds the shared pool/caches once.
func (d *Driver) Open(name string) (driver.Conn, error) {
	c, err := d.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector parses name and builds the shared, process-scoped state
// (pool, retry engine, schema caches, offset cache) once per *sql.DB.
func (d *Driver) OpenConnector(name string) (driver.Connector, error) {
	logger := observability.NewLogger()
	cfg, err := dsn.Parse(name, logger)
	if err != nil {
		return nil, fmt.Errorf("ddbsql: %w", err)
	}
	return newConnector(cfg, logger)
}

// connector holds everything shared across every driver.Conn produced from
// one *sql.DB: the connection pool of remote clients, the retry engine, and
// the schema/offset caches (spec.md §5's "safe for concurrent use at the
// connection-pool boundary").
type connector struct {
	driver      *Driver
	cfg         dsn.Config
	pool        *pool.Pool
	retryEngine *retryengine.Engine
	offsetCache *offsetcache.Cache
	schemaCache *schema.Cache
	lazyLoader  *schema.LazyLoader
	discovery   *schema.Discovery
	sampler     *schema.Sampler
	metrics     *observability.Collector
	logger      *zap.Logger
}

func newConnector(cfg dsn.Config, logger *zap.Logger) (*connector, error) {
	metrics := observability.NewCollector("ddbsql")

	awsCfgLoaders := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	switch cfg.CredentialsType {
	case dsn.CredentialsStatic:
		awsCfgLoaders = append(awsCfgLoaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)))
	case dsn.CredentialsProfile:
		awsCfgLoaders = append(awsCfgLoaders, awsconfig.WithSharedConfigProfile(cfg.ProfileName))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsCfgLoaders...)
	if err != nil {
		return nil, fmt.Errorf("ddbsql: loading AWS config: %w", err)
	}

	factory := &clientFactory{awsCfg: awsCfg, endpoint: cfg.Endpoint, apiCallTimeout: cfg.APICallTimeout}

	poolCfg := pool.DefaultConfig()
	poolCfg.MinSize = cfg.PoolMinSize
	poolCfg.MaxSize = cfg.PoolMaxSize
	poolCfg.InitialSize = cfg.PoolInitialSize
	poolCfg.IdleTimeout = cfg.PoolIdleTimeout
	poolCfg.MaxLifetime = cfg.PoolMaxLifetime
	poolCfg.TestOnBorrow = cfg.PoolTestOnBorrow
	poolCfg.TestOnReturn = cfg.PoolTestOnReturn
	poolCfg.TestWhileIdle = cfg.PoolTestWhileIdle
	poolCfg.ConnectionTimeout = cfg.APICallTimeout

	connPool, err := pool.New(context.Background(), factory, poolCfg, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("ddbsql: building connection pool: %w", err)
	}

	retryCfg := retryengine.Config{
		MaxAttempts:         cfg.RetryMaxAttempts,
		BaseDelay:           cfg.RetryBaseDelay,
		MaxDelay:            cfg.RetryMaxDelay,
		JitterEnabled:       cfg.RetryJitterEnabled,
		CircuitBreakerName:  "ddbsql",
		CircuitMaxFailures:  5,
		CircuitResetTimeout: 30 * time.Second,
	}
	retryEngine := retryengine.New(retryCfg, remote.IsRetryable, metrics, logger)

	var offsetCache *offsetcache.Cache
	if cfg.OffsetCacheEnabled {
		offsetCache = offsetcache.New(offsetcache.Config{
			Interval: cfg.OffsetCacheInterval,
			Size:     cfg.OffsetCacheSize,
			TTL:      cfg.OffsetCacheTTL,
		}, metrics)
	}

	// A dedicated client (outside the pool) drives schema sampling and
	// discovery, which run on their own background timers independent of any
	// one borrowed connection's lifetime.
	sdkClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	schemaClient := remote.New(sdkClient)
	sampler := schema.NewSampler(schemaClient, logger)

	discoveryCfg := schema.DefaultDiscoveryConfig(runtime.NumCPU())
	discoveryCfg.Enabled = cfg.ConcurrentSchemaDiscovery
	discoveryCfg.MaxConcurrent = cfg.MaxConcurrentSchemaDiscoveries
	discovery := schema.NewDiscovery(sampler, discoveryCfg, logger)

	lazyCfg := schema.LazyConfig{
		Strategy:               schema.LazyLoadingStrategy(cfg.LazyLoadingStrategy),
		MaxCacheSize:           cfg.LazyLoadingMaxCacheSize,
		TTL:                    cfg.LazyLoadingCacheTTL,
		PredictiveThreshold:    5,
		PredictivePreloadCount: 3,
	}
	if cfg.PredictiveSchemaLoading {
		lazyCfg.Strategy = schema.StrategyPredictive
	}
	lazyLoader := schema.NewLazyLoader(discovery, lazyCfg, logger)

	var schemaCache *schema.Cache
	if cfg.SchemaCacheEnabled {
		schemaCache = schema.NewCache(sampler, discovery, schema.CacheConfig{
			RefreshInterval: cfg.SchemaCacheRefreshInterval,
			TTL:             cfg.SchemaCacheTTL,
		}, metrics, logger)
	}

	return &connector{
		cfg:         cfg,
		pool:        connPool,
		retryEngine: retryEngine,
		offsetCache: offsetCache,
		schemaCache: schemaCache,
		lazyLoader:  lazyLoader,
		discovery:   discovery,
		sampler:     sampler,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

// Connect borrows one remote client from the pool and wraps it in a Conn.
func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	raw, err := c.pool.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	client := raw.(*remote.Client)

	execCfg := executor.Config{
		FetchSize:           c.cfg.DefaultFetchSize,
		MaxRows:             c.cfg.DefaultMaxRows,
		OffsetWarnThreshold: 1000,
		TableFilterPrefix:   c.cfg.TableFilter,
	}
	exec := executor.New(client, c.retryEngine, c.offsetCache, c.schemaCache, c.lazyLoader, execCfg, c.metrics, c.logger)

	return &Conn{
		connector: c,
		client:    client,
		executor:  exec,
	}, nil
}

// Driver satisfies driver.Connector.
func (c *connector) Driver() driver.Driver {
	if c.driver == nil {
		c.driver = &Driver{}
	}
	return c.driver
}

// clientFactory implements pool.Factory over AWS SDK v2 DynamoDB clients.
// Each "connection" is its own *dynamodb.Client instance; validation is a
// cheap ListTables(Limit:1) ping.
type clientFactory struct {
	awsCfg         aws.Config
	endpoint       string
	apiCallTimeout time.Duration
}

func (f *clientFactory) Create(ctx context.Context) (interface{}, error) {
	sdkClient := dynamodb.NewFromConfig(f.awsCfg, func(o *dynamodb.Options) {
		if f.endpoint != "" {
			o.BaseEndpoint = aws.String(f.endpoint)
		}
	})
	return remote.New(sdkClient), nil
}

func (f *clientFactory) Validate(ctx context.Context, conn interface{}) bool {
	client, ok := conn.(*remote.Client)
	if !ok {
		return false
	}
	vctx, cancel := context.WithTimeout(ctx, f.apiCallTimeout)
	defer cancel()
	return client.Ping(vctx) == nil
}

func (f *clientFactory) Destroy(conn interface{}) {
	// AWS SDK v2 clients own no explicit handle to release; the underlying
	// HTTP transport is garbage collected with the client.
}
