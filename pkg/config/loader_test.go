package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tenantquota/pkg/config"
)

type sampleConfig struct {
	Name     string        `env:"TQ_TEST_NAME" envDefault:"default"`
	Days     int           `env:"TQ_TEST_DAYS" envDefault:"7"`
	Interval time.Duration `env:"TQ_TEST_INTERVAL" envDefault:"1h"`
}

type requiredConfig struct {
	Value string `env:"TQ_TEST_REQUIRED_MISSING,required"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg sampleConfig
	t.Setenv("TQ_TEST_NAME", "")
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, time.Hour, cfg.Interval)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("TQ_TEST_NAME", "env")
	t.Setenv("TQ_TEST_DAYS", "30")

	var cfg sampleConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "env", cfg.Name)
	assert.Equal(t, 30, cfg.Days)
}

func TestLoad_Errors(t *testing.T) {
	var nilCfg *sampleConfig
	assert.ErrorIs(t, config.Load(nilCfg), config.ErrNilPointer)

	var cfg requiredConfig
	assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)
	assert.Panics(t, func() { config.MustLoad(&cfg) })
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("TQ_TEST_NAME", "")
	t.Setenv("TQ_TEST_DAYS", "")

	require.NoError(t, config.LoadEnv("testdata/.env.test"))

	var cfg sampleConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "from_file", cfg.Name)
	assert.Equal(t, 14, cfg.Days)

	assert.ErrorIs(t, config.LoadEnv("testdata/missing.env"), config.ErrLoadingEnv)
}
