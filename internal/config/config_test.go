package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  host: db.internal
  user: bakery
  password: secret
  database: bakery
rabbitmq:
  host: mq.internal
  user: guest
  password: guest
engine:
  queue_cap: 25
  claim_window: 2m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port, "default survives partial override")
	assert.Equal(t, 25, cfg.Engine.QueueCap)
	assert.Equal(t, 2*time.Minute, cfg.Engine.ClaimWindow.Std())
	assert.Equal(t, int64(100), cfg.Engine.CostStandard)
	assert.Equal(t, 20*time.Minute, cfg.Engine.ReadyTimeout.Std())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database: {host: h, user: u, database: d}
rabbitmq: {host: h, user: u}
engine:
  claim_window: "four minutes"
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "empty database config is rejected")

	cfg.Database.Host, cfg.Database.User, cfg.Database.Database = "h", "u", "d"
	cfg.RabbitMQ.Host, cfg.RabbitMQ.User = "h", "u"
	assert.NoError(t, cfg.Validate())

	cfg.Engine.QueueCap = 0
	assert.Error(t, cfg.Validate())
}
