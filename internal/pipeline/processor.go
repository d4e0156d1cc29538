// --- File: internal/pipeline/processor.go ---
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

// NewProcessor resolves the variant of each request and hands the batch to
// the sender.
//
// Errors that a redelivery cannot fix (unknown variant, bad certificate,
// oversized payload) are logged and acked. Everything else is returned so
// the message is redelivered.
func NewProcessor(
	sender dispatch.Sender,
	variantStore dispatch.VariantStore,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.PushRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.PushRequest) error {
		procLogger := logger.With(
			"variant_id", request.VariantID,
			"push_message_id", request.PushMessageID,
			"pubsub_msg_id", original.ID,
		)

		if len(request.Tokens) == 0 {
			procLogger.Info("No device tokens in request; dropping notification.")
			return nil
		}

		variant, err := variantStore.Fetch(ctx, request.VariantID)
		if err != nil {
			if errors.Is(err, dispatch.ErrVariantNotFound) {
				procLogger.Warn("Unknown variant; dropping notification.", "err", err)
				return nil
			}
			procLogger.Error("Failed to fetch variant", "err", err)
			return err
		}

		err = sender.SendBatch(ctx, *variant, request.Tokens, *request, &loggingCallback{logger: procLogger})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, dispatch.ErrInvalidCertificate), errors.Is(err, dispatch.ErrPayloadTooLarge):
			// Permanent for this message.
			return nil
		default:
			return err // Retryable
		}
	}
}

// loggingCallback reports batch outcomes to the processor log.
type loggingCallback struct {
	logger *slog.Logger
}

func (c *loggingCallback) OnSuccess() {
	c.logger.Info("APNs batch dispatched")
}

func (c *loggingCallback) OnError(reason string) {
	c.logger.Warn("APNs batch not dispatched", "reason", reason)
}
