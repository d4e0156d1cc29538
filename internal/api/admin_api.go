package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tinywideclouds/go-apns-sender/internal/platform/apns"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// MaxDrainLimit caps how many invalid tokens one drain call may return.
const MaxDrainLimit = 10_000

// StatsSource reports the dispatcher counters.
type StatsSource interface {
	Stats() apns.Stats
}

// AdminAPI exposes the operational surface of the sender: draining invalid
// tokens into the device registry, forcing a variant to reconnect, and
// reading send counters.
type AdminAPI struct {
	Sink        dispatch.InvalidTokenSink
	Invalidator dispatch.VariantInvalidator
	Stats       StatsSource
	Logger      *slog.Logger
}

func NewAdminAPI(sink dispatch.InvalidTokenSink, invalidator dispatch.VariantInvalidator, stats StatsSource, logger *slog.Logger) *AdminAPI {
	return &AdminAPI{
		Sink:        sink,
		Invalidator: invalidator,
		Stats:       stats,
		Logger:      logger.With("component", "AdminAPI"),
	}
}

type DrainResponse struct {
	Tokens []dispatch.InvalidToken `json:"tokens"`
}

// DrainInvalidTokens removes and returns up to ?limit= invalid tokens.
func (api *AdminAPI) DrainInvalidTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := MaxDrainLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.WriteJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}

	tokens, err := api.Sink.Drain(ctx, limit)
	if err != nil {
		api.Logger.Error("failed to drain invalid tokens", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "drain failed")
		return
	}
	if tokens == nil {
		tokens = []dispatch.InvalidToken{}
	}
	api.Logger.Info("Invalid tokens drained", "count", len(tokens))

	writeJSON(w, http.StatusOK, DrainResponse{Tokens: tokens})
}

// InvalidateVariant drops all cached state for the variant in the path,
// typically after its certificate was replaced.
func (api *AdminAPI) InvalidateVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	variantID := r.PathValue("id")
	if variantID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing variant id")
		return
	}

	api.Invalidator.InvalidateVariant(ctx, variantID)
	api.Logger.Info("Variant invalidated", "variant_id", variantID)

	w.WriteHeader(http.StatusNoContent)
}

// GetStats returns the dispatcher counters.
func (api *AdminAPI) GetStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserHandleFromContext(r.Context()); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, api.Stats.Stats())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
