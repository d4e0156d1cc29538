// --- File: cmd/apnssender/runapnssender.go ---
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-apns-sender/apnssender"
	"github.com/tinywideclouds/go-apns-sender/apnssender/config"
	"github.com/tinywideclouds/go-apns-sender/internal/feedback"
	"github.com/tinywideclouds/go-apns-sender/internal/platform/apns"
	"github.com/tinywideclouds/go-apns-sender/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-apns-sender/internal/storage/firestore"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-apns-sender")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Variant Store (Decorated) and Invalid-Token Sink ---
	var variantStore dispatch.VariantStore = fsStore.NewVariantStore(fsClient, cfg.VariantCollection)
	var sink dispatch.InvalidTokenSink = feedback.NewMemorySink(cfg.APNs.MaxInvalidTokens)
	var variantCache dispatch.VariantInvalidator
	logger.Info("VariantStore initialized", "type", "firestore", "collection", cfg.VariantCollection)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		cached := cache.NewCachedVariantStore(variantStore, redisClient, cfg.Redis.VariantTTL, logger)
		variantStore, variantCache = cached, cached
		sink = feedback.NewRedisSink(redisClient, feedback.DefaultKey, int64(cfg.APNs.MaxInvalidTokens), logger)
		logger.Info("VariantStore upgraded", "type", "redis_cached_firestore", "sink", "redis")
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Dispatcher ---
	connector := apns.NewConnector(apns.ConnectorConfig{
		Override: apns.HostOverride{Host: cfg.APNs.CustomHost, Port: cfg.APNs.CustomPort},
		Proxy:    cfg.Proxy,
	}, logger)
	dispatcher, err := apns.NewDispatcher(apns.Config{MaxInFlight: cfg.APNs.MaxInFlight}, connector, sink, nil, logger)
	if err != nil {
		logger.Error("Failed to create APNs dispatcher", "err", err)
		os.Exit(1)
	}

	// A variant that failed to connect, or was changed externally, loses both
	// its connection and its cached credentials.
	invalidator := dispatch.FanOutInvalidator{dispatcher, variantCache}
	dispatcher.SetInvalidator(invalidator)
	logger.Info("APNs dispatcher ready", "max_in_flight", cfg.APNs.MaxInFlight, "proxy", apns.ResolveProxy(cfg.Proxy).Mode.String())

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer creation failed", "err", err)
		os.Exit(1)
	}

	service, err := apnssender.New(cfg, apnssender.Dependencies{
		Consumer:       consumer,
		Sender:         dispatcher,
		VariantStore:   variantStore,
		Sink:           sink,
		Invalidator:    invalidator,
		AuthMiddleware: authMiddleware,
	}, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
