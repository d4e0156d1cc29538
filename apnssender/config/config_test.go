// --- File: apnssender/config/config_test.go ---
package config_test

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-apns-sender/apnssender/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:          "base-project",
			ListenAddr:         ":8080",
			SubscriptionID:     "base-sub",
			NumPipelineWorkers: 2,
			APNs: config.APNsConfig{
				MaxInFlight: 100,
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")

		t.Setenv("APNS_PUSH_HOST", "apns.mock.local")
		t.Setenv("APNS_PUSH_PORT", "2197")
		t.Setenv("APNS_MAX_IN_FLIGHT", "16")
		t.Setenv("APNS_MAX_INVALID_TOKENS", "500")

		t.Setenv("HTTP_PROXY_HOST", "proxy.corp")
		t.Setenv("HTTP_PROXY_PORT", "3128")
		t.Setenv("HTTP_PROXY_USER", "alice")
		t.Setenv("HTTP_PROXY_PASSWORD", "pw")
		t.Setenv("SOCKS_PROXY_HOST", "socks.corp")
		t.Setenv("SOCKS_PROXY_PORT", "1080")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)

		assert.Equal(t, "apns.mock.local", finalCfg.APNs.CustomHost)
		assert.Equal(t, 2197, finalCfg.APNs.CustomPort)
		assert.Equal(t, 16, finalCfg.APNs.MaxInFlight)
		assert.Equal(t, 500, finalCfg.APNs.MaxInvalidTokens)

		assert.True(t, finalCfg.Proxy.HasHTTPProxy())
		assert.True(t, finalCfg.Proxy.HasBasicAuth())
		assert.Equal(t, "proxy.corp:3128", finalCfg.Proxy.HTTPProxyAddress())
		assert.True(t, finalCfg.Proxy.HasSocksProxy())
		assert.Equal(t, "socks.corp:1080", finalCfg.Proxy.SocksProxyAddress())
	})

	t.Run("Success - Defaults preserved", func(t *testing.T) {
		cfg := baseConfig()
		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.ProjectID)
		assert.Equal(t, 100, finalCfg.APNs.MaxInFlight)
		assert.Equal(t, time.Hour, finalCfg.Redis.VariantTTL)
		assert.Equal(t, "variants", finalCfg.VariantCollection)
		assert.False(t, finalCfg.Proxy.HasHTTPProxy())
		assert.False(t, finalCfg.Proxy.HasSocksProxy())
		assert.NotNil(t, finalCfg.PubsubConsumerConfig)
	})

	t.Run("Validation Failure - Non-numeric port", func(t *testing.T) {
		cfg := baseConfig()
		t.Setenv("APNS_PUSH_PORT", "not-a-port")

		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "APNS_PUSH_PORT")
	})

	t.Run("Validation Failure - Port out of range", func(t *testing.T) {
		cfg := baseConfig()
		cfg.APNs.CustomPort = 70000

		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Plain http push host", func(t *testing.T) {
		cfg := baseConfig()
		t.Setenv("APNS_PUSH_HOST", "http://localhost")

		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "custom_host")
	})

	t.Run("Success - https push host with port", func(t *testing.T) {
		cfg := baseConfig()
		t.Setenv("APNS_PUSH_HOST", "https://localhost:8443")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, "https://localhost:8443", finalCfg.APNs.CustomHost)
	})

	t.Run("Validation Failure - Missing ProjectID", func(t *testing.T) {
		cfg := &config.Config{SubscriptionID: "sub"}
		os.Unsetenv("PROJECT_ID")
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})
}

func TestProxyConfig(t *testing.T) {
	t.Run("Host without port is not a proxy", func(t *testing.T) {
		p := config.ProxyConfig{HTTPHost: "proxy.corp", SocksHost: "socks.corp"}
		assert.False(t, p.HasHTTPProxy())
		assert.False(t, p.HasSocksProxy())
	})

	t.Run("Basic auth needs both halves", func(t *testing.T) {
		p := config.ProxyConfig{HTTPHost: "proxy.corp", HTTPPort: 3128, HTTPUser: "alice"}
		assert.True(t, p.HasHTTPProxy())
		assert.False(t, p.HasBasicAuth())

		user, pass := config.ProxyConfig{HTTPUser: "alice", HTTPPassword: "pw"}.ProxyCredentials()
		assert.Equal(t, "alice", user)
		assert.Equal(t, "pw", pass)
	})
}
