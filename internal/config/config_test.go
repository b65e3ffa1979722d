package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	rc := cfg.Records()
	assert.Equal(t, "0.05", rc.Pricing.MemberRate.String())
	assert.Equal(t, "0.1", rc.Pricing.VIPDefaultRate.String())
	assert.Equal(t, "1000", rc.Pricing.VIPThreshold.String())
	assert.Equal(t, "200", rc.Pricing.VIPFee.String())
	assert.Equal(t, "0.2", rc.BundleDiscount.String())
	assert.Equal(t, "./data/orders.csv", rc.OrderPath)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolemart.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
files:
  customers: /srv/c.txt
pricing:
  member_rate: 0.08
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/c.txt", cfg.Files.Customers)
	assert.Equal(t, "./data/products.csv", cfg.Files.Products)
	assert.Equal(t, 0.08, cfg.Pricing.MemberRate)
	assert.Equal(t, 1000.0, cfg.Pricing.VIPThreshold)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("files: [nope"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestOverridePrecedence(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{EnvCustomers: "env-c", EnvOrders: ""}
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "env-c", cfg.Files.Customers)
	assert.Equal(t, "./data/products.csv", cfg.Files.Products)
	assert.Empty(t, cfg.Files.Orders)

	require.NoError(t, cfg.ApplyArgs([]string{"arg-c", "arg-p"}))
	assert.Equal(t, "arg-c", cfg.Files.Customers)
	assert.Equal(t, "arg-p", cfg.Files.Products)

	assert.Error(t, cfg.ApplyArgs([]string{"a", "b", "c", "d"}))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"member rate above one", func(c *Config) { c.Pricing.MemberRate = 1.5 }, "MemberRate"},
		{"negative vip rate", func(c *Config) { c.Pricing.VIPRate = -0.1 }, "VIPRate"},
		{"zero threshold", func(c *Config) { c.Pricing.VIPThreshold = 0 }, "VIPThreshold"},
		{"negative fee", func(c *Config) { c.Pricing.VIPFee = -1 }, "VIPFee"},
		{"no customers file", func(c *Config) { c.Files.Customers = "" }, "Customers"},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
