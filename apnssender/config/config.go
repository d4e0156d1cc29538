// --- File: apnssender/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// VariantTTL is how long fetched variant credentials stay cached.
	VariantTTL time.Duration
}

// APNsConfig tunes the dispatcher.
type APNsConfig struct {
	// CustomHost replaces the production/sandbox endpoint for every variant.
	CustomHost string
	// CustomPort is only honoured together with CustomHost.
	CustomPort int
	// MaxInFlight caps concurrent sends. <= 0 is unlimited.
	MaxInFlight int
	// MaxInvalidTokens bounds the invalid-token set. <= 0 uses the sink default.
	MaxInvalidTokens int
}

// ProxyConfig is the process-wide outbound proxy. It satisfies apns.ProxySource.
type ProxyConfig struct {
	HTTPHost     string
	HTTPPort     int
	HTTPUser     string
	HTTPPassword string
	SocksHost    string
	SocksPort    int
}

func (p ProxyConfig) HasHTTPProxy() bool {
	return p.HTTPHost != "" && p.HTTPPort > 0
}

func (p ProxyConfig) HasBasicAuth() bool {
	return p.HTTPUser != "" && p.HTTPPassword != ""
}

func (p ProxyConfig) HTTPProxyAddress() string {
	return net.JoinHostPort(p.HTTPHost, strconv.Itoa(p.HTTPPort))
}

func (p ProxyConfig) ProxyCredentials() (string, string) {
	return p.HTTPUser, p.HTTPPassword
}

func (p ProxyConfig) HasSocksProxy() bool {
	return p.SocksHost != "" && p.SocksPort > 0
}

func (p ProxyConfig) SocksProxyAddress() string {
	return net.JoinHostPort(p.SocksHost, strconv.Itoa(p.SocksPort))
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	// VariantCollection is the Firestore collection holding variant credentials.
	VariantCollection string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	APNs       APNsConfig
	Proxy      ProxyConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// APNs Overrides
	if val := os.Getenv("APNS_PUSH_HOST"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_PUSH_HOST", "source", "env")
		cfg.APNs.CustomHost = val
	}
	if err := intOverride("APNS_PUSH_PORT", &cfg.APNs.CustomPort, logger); err != nil {
		return nil, err
	}
	if err := intOverride("APNS_MAX_IN_FLIGHT", &cfg.APNs.MaxInFlight, logger); err != nil {
		return nil, err
	}
	if err := intOverride("APNS_MAX_INVALID_TOKENS", &cfg.APNs.MaxInvalidTokens, logger); err != nil {
		return nil, err
	}

	// Proxy Overrides
	if val := os.Getenv("HTTP_PROXY_HOST"); val != "" {
		logger.Debug("Overriding config value", "key", "HTTP_PROXY_HOST", "source", "env")
		cfg.Proxy.HTTPHost = val
	}
	if err := intOverride("HTTP_PROXY_PORT", &cfg.Proxy.HTTPPort, logger); err != nil {
		return nil, err
	}
	if val := os.Getenv("HTTP_PROXY_USER"); val != "" {
		cfg.Proxy.HTTPUser = val
	}
	if val := os.Getenv("HTTP_PROXY_PASSWORD"); val != "" {
		cfg.Proxy.HTTPPassword = val
	}
	if val := os.Getenv("SOCKS_PROXY_HOST"); val != "" {
		logger.Debug("Overriding config value", "key", "SOCKS_PROXY_HOST", "source", "env")
		cfg.Proxy.SocksHost = val
	}
	if err := intOverride("SOCKS_PROXY_PORT", &cfg.Proxy.SocksPort, logger); err != nil {
		return nil, err
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.APNs.CustomPort < 0 || cfg.APNs.CustomPort > 65535 {
		return nil, fmt.Errorf("apns custom_port %d is out of range", cfg.APNs.CustomPort)
	}
	if scheme, _, ok := strings.Cut(cfg.APNs.CustomHost, "://"); ok && !strings.EqualFold(scheme, "https") {
		return nil, fmt.Errorf("apns custom_host %q must be a host name or an https URL", cfg.APNs.CustomHost)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Redis.VariantTTL <= 0 {
		cfg.Redis.VariantTTL = time.Hour
	}
	if cfg.VariantCollection == "" {
		cfg.VariantCollection = "variants"
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func intOverride(key string, dest *int, logger *slog.Logger) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dest = n
	return nil
}
