// --- File: apnssender/config/yaml_config.go ---
package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Enabled    bool   `yaml:"enabled"`
	VariantTTL string `yaml:"variant_ttl"`
}

type YamlAPNsConfig struct {
	CustomHost       string `yaml:"custom_host"`
	CustomPort       int    `yaml:"custom_port"`
	MaxInFlight      int    `yaml:"max_in_flight"`
	MaxInvalidTokens int    `yaml:"max_invalid_tokens"`
}

type YamlProxyConfig struct {
	HTTPHost     string `yaml:"http_host"`
	HTTPPort     int    `yaml:"http_port"`
	HTTPUser     string `yaml:"http_user"`
	HTTPPassword string `yaml:"http_password"`
	SocksHost    string `yaml:"socks_host"`
	SocksPort    int    `yaml:"socks_port"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string          `yaml:"project_id"`
	ListenAddr             string          `yaml:"listen_addr"`
	TopicID                string          `yaml:"topic_id"`
	SubscriptionID         string          `yaml:"subscription_id"`
	SubscriptionDLQTopicID string          `yaml:"subscription_dlq_topic_id"`
	VariantCollection      string          `yaml:"variant_collection"`
	CorsConfig             YamlCorsConfig  `yaml:"cors"`
	RedisConfig            YamlRedisConfig `yaml:"redis"`
	APNsConfig             YamlAPNsConfig  `yaml:"apns"`
	ProxyConfig            YamlProxyConfig `yaml:"proxy"`
	NumPipelineWorkers     int             `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:         baseCfg.ProjectID,
		ListenAddr:        baseCfg.ListenAddr,
		TopicID:           baseCfg.TopicID,
		SubscriptionID:    baseCfg.SubscriptionID,
		VariantCollection: baseCfg.VariantCollection,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		APNs: APNsConfig{
			CustomHost:       baseCfg.APNsConfig.CustomHost,
			CustomPort:       baseCfg.APNsConfig.CustomPort,
			MaxInFlight:      baseCfg.APNsConfig.MaxInFlight,
			MaxInvalidTokens: baseCfg.APNsConfig.MaxInvalidTokens,
		},
		Proxy: ProxyConfig{
			HTTPHost:     baseCfg.ProxyConfig.HTTPHost,
			HTTPPort:     baseCfg.ProxyConfig.HTTPPort,
			HTTPUser:     baseCfg.ProxyConfig.HTTPUser,
			HTTPPassword: baseCfg.ProxyConfig.HTTPPassword,
			SocksHost:    baseCfg.ProxyConfig.SocksHost,
			SocksPort:    baseCfg.ProxyConfig.SocksPort,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if raw := baseCfg.RedisConfig.VariantTTL; raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			logger.Warn("Ignoring invalid redis variant_ttl", "value", raw, "err", err)
		} else {
			cfg.Redis.VariantTTL = ttl
		}
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"apns_custom_host", cfg.APNs.CustomHost,
	)

	return cfg, nil
}
