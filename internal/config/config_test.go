package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	t.Setenv("LIPDUB_PAYMENT_WEBHOOK_SECRET", "from-env")
	t.Setenv("LIPDUB_SERVER_PORT", "9090")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.EqualValues(t, 1, cfg.Server.NodeID)
	assert.Equal(t, "from-env", cfg.Payment.WebhookSecret)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Storage.UploadTTL)
	assert.EqualValues(t, 149, cfg.Payment.Products["lipsync"])
	assert.Equal(t, "translation.events", cfg.Kafka.Topic.TranslationEvents)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8081
payment:
  provider: cloudpayments
  webhook_secret: file-secret
  products:
    lipsync: 199
business:
  reconcile_interval: 30s
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "cloudpayments", cfg.Payment.Provider)
	assert.EqualValues(t, 199, cfg.Payment.Products["lipsync"])
	assert.Equal(t, 30*time.Second, cfg.Business.ReconcileInterval)
	assert.Equal(t, 5, cfg.Business.MaxStartAttempts)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage:     StorageConfig{UploadTTL: 15 * time.Minute},
			Payment:     PaymentConfig{WebhookSecret: "s", Products: map[string]int64{"lipsync": 149}},
			Translation: TranslationConfig{Timeout: 15 * time.Second},
			Business: BusinessConfig{
				ReconcileInterval: time.Minute,
				CleanupInterval:   5 * time.Minute,
				OutboxInterval:    time.Second,
				ClaimTTL:          10 * time.Minute,
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"ttl too short":    func(c *Config) { c.Storage.UploadTTL = time.Second },
		"ttl too long":     func(c *Config) { c.Storage.UploadTTL = 2 * time.Hour },
		"no secret":        func(c *Config) { c.Payment.WebhookSecret = "" },
		"no products":      func(c *Config) { c.Payment.Products = nil },
		"non-positive fee": func(c *Config) { c.Payment.Products["lipsync"] = 0 },
		"zero reconcile":   func(c *Config) { c.Business.ReconcileInterval = 0 },
		"zero cleanup":     func(c *Config) { c.Business.CleanupInterval = 0 },
		"negative outbox":  func(c *Config) { c.Business.OutboxInterval = -time.Second },
		"claim ttl short":  func(c *Config) { c.Business.ClaimTTL = 10 * time.Second },
		"claim ttl equal":  func(c *Config) { c.Business.ClaimTTL = 15 * time.Second },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
