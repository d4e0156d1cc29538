package apns

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sideshow/apns2"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

// Outcome is the classification of a single provider response.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	// OutcomeInvalidToken means the token must never be used again.
	OutcomeInvalidToken
	// OutcomeTransient covers every other rejection; the token is kept.
	OutcomeTransient
)

// ResponseClassifier turns APNs responses into invalid-token records.
type ResponseClassifier struct {
	sink   dispatch.InvalidTokenSink
	now    func() time.Time
	logger *slog.Logger
}

// NewResponseClassifier creates a classifier. now stamps BadDeviceToken
// records, which carry no timestamp of their own; nil means time.Now.
func NewResponseClassifier(sink dispatch.InvalidTokenSink, now func() time.Time, logger *slog.Logger) *ResponseClassifier {
	if now == nil {
		now = time.Now
	}
	return &ResponseClassifier{
		sink:   sink,
		now:    now,
		logger: logger.With("component", "APNSResponseClassifier"),
	}
}

// Classify inspects a response for the given token. Only an explicit
// invalidation timestamp or BadDeviceToken marks the token invalid.
func (c *ResponseClassifier) Classify(ctx context.Context, variantID, token string, res *apns2.Response) Outcome {
	if res.Sent() {
		c.logger.Debug("APNs accepted notification", "token", token, "apns_id", res.ApnsID)
		return OutcomeAccepted
	}

	if !res.Timestamp.IsZero() || res.Reason == apns2.ReasonBadDeviceToken {
		c.logger.Info("Removing invalid token", "token", token, "reason", res.Reason, "variant_id", variantID)

		stamp := res.Timestamp.Time
		if stamp.IsZero() {
			stamp = c.now()
		}
		err := c.sink.Add(ctx, dispatch.InvalidToken{
			Token:     token,
			VariantID: variantID,
			Reason:    res.Reason,
			Timestamp: stamp,
		})
		if err != nil {
			level := slog.LevelError
			if errors.Is(err, dispatch.ErrSinkFull) {
				level = slog.LevelWarn
			}
			c.logger.Log(ctx, level, "Failed to record invalid token", "token", token, "err", err)
		}
		return OutcomeInvalidToken
	}

	c.logger.Warn("APNs rejected notification",
		"token", token,
		"reason", res.Reason,
		"status", res.StatusCode,
		"variant_id", variantID,
	)
	return OutcomeTransient
}
