// --- File: apnssender/service.go ---
package apnssender

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-apns-sender/apnssender/config"
	"github.com/tinywideclouds/go-apns-sender/internal/api"
	"github.com/tinywideclouds/go-apns-sender/internal/pipeline"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

// Sender is the dispatch engine as the service drives it.
type Sender interface {
	dispatch.Sender
	api.StatsSource
	Close(ctx context.Context) error
}

// Dependencies are the collaborators the service is assembled from.
type Dependencies struct {
	Consumer     messagepipeline.MessageConsumer
	Sender       Sender
	VariantStore dispatch.VariantStore
	Sink         dispatch.InvalidTokenSink
	// Invalidator receives external "variant changed" signals.
	Invalidator    dispatch.VariantInvalidator
	AuthMiddleware func(http.Handler) http.Handler
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[dispatch.PushRequest]
	sender          Sender
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Processor
	processor := pipeline.NewProcessor(deps.Sender, deps.VariantStore, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		deps.Consumer,
		pipeline.PushRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API (Operations)
	adminAPI := api.NewAdminAPI(deps.Sink, deps.Invalidator, deps.Sender, logger)
	RegisterRoutes(baseServer.Mux(), adminAPI, middleware.NewCorsMiddleware(cfg.CorsConfig, logger), deps.AuthMiddleware)

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		sender:          deps.Sender,
		logger:          logger,
	}, nil
}

// RegisterRoutes mounts the admin API behind CORS and auth.
func RegisterRoutes(
	mux *http.ServeMux,
	adminAPI *api.AdminAPI,
	corsMiddleware func(http.Handler) http.Handler,
	authMiddleware func(http.Handler) http.Handler,
) {
	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/invalid-tokens/drain", adminAPI.DrainInvalidTokens)
	handle("POST /api/v1/variants/{id}/invalidate", adminAPI.InvalidateVariant)
	handle("GET /api/v1/stats", adminAPI.GetStats)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops intake first, then lets in-flight APNs sends finish.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.sender.Close(ctx); err != nil {
		w.logger.Error("APNs dispatcher shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
