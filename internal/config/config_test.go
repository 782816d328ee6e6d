package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 17224, cfg.PD.Port)
	assert.Equal(t, 17225, cfg.MD.UDPPort)
	assert.Equal(t, "100ms", cfg.PD.Timeout)
	assert.Equal(t, "zero", cfg.PD.TOBehavior)
	assert.Equal(t, 2, cfg.MD.Retries)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, "trdpd.db", cfg.Store.Path)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trdpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  own_ip: 10.0.0.1
  etb_topo: 7
pd:
  port: 27224
  timeout: 250ms
md:
  reply_timeout: 2s
api:
  enabled: true
  port: 9090
telegrams:
  - comid: 1001
    direction: publish
    dest_ip: 239.1.2.3
    interval: 100ms
    payload: "deadbeef"
  - comid: 1002
    direction: subscribe
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.Session.OwnIP)
	assert.Equal(t, uint32(7), cfg.Session.ETBTopo)
	assert.Equal(t, 27224, cfg.PD.Port)
	assert.Equal(t, "250ms", cfg.PD.Timeout)
	assert.Equal(t, "2s", cfg.MD.ReplyTimeout)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 9090, cfg.API.Port)
	require.Len(t, cfg.Telegrams, 2)
	assert.Equal(t, uint32(1001), cfg.Telegrams[0].ComID)
	assert.Equal(t, "publish", cfg.Telegrams[0].Direction)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TRDPD_PD_PORT", "28224")
	t.Setenv("TRDPD_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 28224, cfg.PD.Port)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.PD.Port = -1
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.PD.Timeout = "not-a-duration"
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.PD.TOBehavior = "explode"
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Telegrams = []TelegramConfig{{ComID: 0, Direction: "publish", DestIP: "10.0.0.1"}}
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Telegrams = []TelegramConfig{{ComID: 1, Direction: "sideways"}}
	assert.Error(t, cfg.Validate())
}

func TestDurationHelper(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Second))
	assert.Equal(t, time.Second, Duration("", time.Second))
	assert.Equal(t, time.Second, Duration("garbage", time.Second))
}
