// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

var errMissingVariant = errors.New("push request has no variantId")

// PushRequestTransformer is a dataflow Transformer that unmarshals and
// validates a raw message payload into a dispatch.PushRequest.
//
// Requests without a pushMessageId are given a fresh one so every delivery
// can be correlated on the device.
func PushRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.PushRequest, bool, error) {
	var req dispatch.PushRequest

	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// skip=true lets the StreamingService handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal push request from message %s: %w", msg.ID, err)
	}
	if req.VariantID == "" {
		return nil, true, fmt.Errorf("invalid push request in message %s: %w", msg.ID, errMissingVariant)
	}
	if req.PushMessageID == "" {
		req.PushMessageID = uuid.NewString()
	}

	return &req, false, nil
}
