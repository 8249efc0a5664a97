package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fromYAML(t *testing.T, doc string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return v
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(fromYAML(t, `
jwt_secret: s3cret
storage:
  driver: memory
`))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, DriverMemory, cfg.Revocation.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.Interval)
	assert.Equal(t, 8, cfg.Sweeper.Concurrency)
	assert.Equal(t, 16, cfg.Sweeper.DeliveryConcurrency)
	assert.Equal(t, 500, cfg.Sweeper.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Sweeper.ChannelTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Revocation.SweepInterval)
	assert.Equal(t, 587, cfg.Email.SMTPPort)
	assert.False(t, cfg.Email.Enabled())
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse(fromYAML(t, `
jwt_secret: s3cret
database_url: postgres://monev@localhost/monev?sslmode=disable
sweeper:
  interval: 30s
  concurrency: 2
revocation:
  backend: REDIS
  sweep_interval: 1h
email:
  smtp_host: mail.example.org
  from: alerts@example.org
`))
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, DriverRedis, cfg.Revocation.Backend)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, 2, cfg.Sweeper.Concurrency)
	assert.Equal(t, time.Hour, cfg.Revocation.SweepInterval)
	assert.True(t, cfg.Email.Enabled())
}

func TestParseEnvOverride(t *testing.T) {
	t.Setenv("MONEV_JWT_SECRET", "from-env")
	t.Setenv("MONEV_SWEEPER_CONCURRENCY", "3")

	cfg, err := Parse(fromYAML(t, `
storage:
  driver: memory
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, 3, cfg.Sweeper.Concurrency)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"missing secret":         "storage:\n  driver: memory\n",
		"postgres without url":   "jwt_secret: x\n",
		"unknown driver":         "jwt_secret: x\nstorage:\n  driver: mongo\n",
		"postgres blacklist":     "jwt_secret: x\nstorage:\n  driver: memory\nrevocation:\n  backend: postgres\n",
		"zero concurrency":       "jwt_secret: x\nstorage:\n  driver: memory\nsweeper:\n  concurrency: 0\n",
		"negative retention":     "jwt_secret: x\nstorage:\n  driver: memory\nretention:\n  days: -1\n",
		"non-positive intervals": "jwt_secret: x\nstorage:\n  driver: memory\nsweeper:\n  interval: 0s\n",
		"retention without tick": "jwt_secret: x\nstorage:\n  driver: memory\nretention:\n  days: 30\n  interval: 0s\n",
		"zero delivery limit":    "jwt_secret: x\nstorage:\n  driver: memory\nsweeper:\n  delivery_concurrency: 0\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(fromYAML(t, doc))
			assert.Error(t, err)
		})
	}
}

func TestParseRetentionSchedule(t *testing.T) {
	cfg, err := Parse(fromYAML(t, `
jwt_secret: x
storage:
  driver: memory
retention:
  days: 30
`))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, 24*time.Hour, cfg.Retention.Interval)

	// Retention disabled does not need a schedule.
	_, err = Parse(fromYAML(t, "jwt_secret: x\nstorage:\n  driver: memory\nretention:\n  interval: 0s\n"))
	assert.NoError(t, err)
}
