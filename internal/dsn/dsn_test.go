package dsn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsAndOverrides(t *testing.T) {
	raw := "ddbsql:region=us-west-2;defaultFetchSize=50;retryMaxAttempts=5;pool.maxSize=25;schemaCache=false;"
	cfg, err := Parse(raw, nil)
	require.NoError(t, err)

	assert.Equal(t, "us-west-2", cfg.Region)
	assert.Equal(t, 50, cfg.DefaultFetchSize)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 25, cfg.PoolMaxSize)
	assert.False(t, cfg.SchemaCacheEnabled)
	// untouched defaults remain
	assert.Equal(t, CredentialsDefault, cfg.CredentialsType)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBaseDelay)
}

func TestParse_RegionFallsBackToEnv(t *testing.T) {
	t.Setenv("AWS_DEFAULT_REGION", "eu-central-1")
	cfg, err := Parse("ddbsql:endpoint=http://localhost:8000;", nil)
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", cfg.Region)
}

func TestParse_MalformedIntegerFallsBackToDefault(t *testing.T) {
	cfg, err := Parse("ddbsql:region=us-east-1;defaultFetchSize=notanumber;", nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults().DefaultFetchSize, cfg.DefaultFetchSize)
}

func TestParse_UnknownKeysIgnoredSilently(t *testing.T) {
	cfg, err := Parse("ddbsql:region=us-east-1;someFutureKey=whatever;", nil)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}

func TestParse_MissingPrefixSeparatorErrors(t *testing.T) {
	_, err := Parse("not-a-valid-url", nil)
	assert.Error(t, err)
}

func TestValidate_StaticCredentialsRequireKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Region = "us-east-1"
	cfg.CredentialsType = CredentialsStatic
	err := cfg.Validate()
	assert.Error(t, err)

	cfg.AccessKey = "AKIA..."
	cfg.SecretKey = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ProfileCredentialsRequireProfileName(t *testing.T) {
	cfg := Defaults()
	cfg.Region = "us-east-1"
	cfg.CredentialsType = CredentialsProfile
	assert.Error(t, cfg.Validate())

	cfg.ProfileName = "default"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MissingRegionFails(t *testing.T) {
	cfg := Defaults()
	assert.Error(t, cfg.Validate())
}
