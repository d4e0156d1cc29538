package apns

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

const (
	// MaxPayloadSize is the APNs limit for a regular remote notification.
	MaxPayloadSize = 4096
	// PushIDKey carries the push message ID for delivery tracking.
	PushIDKey = "push-id"
)

// BuildPayload serializes msg into an APNs payload. Custom data follows the
// aps dictionary in the order the caller supplied it. Payloads above
// MaxPayloadSize are rejected, never truncated.
func BuildPayload(msg dispatch.Message, pushMessageID string) ([]byte, error) {
	builder := payload.NewPayload()

	// A negative badge means "leave it alone"; 0 clears it.
	if msg.Badge >= 0 {
		builder.Badge(msg.Badge)
	}
	if msg.Alert != "" {
		builder.AlertBody(msg.Alert)
	}
	if msg.Sound != "" {
		builder.Sound(msg.Sound)
	}

	opts := msg.APNs
	if opts.Title != "" {
		builder.AlertTitle(opts.Title)
	}
	if opts.Action != "" {
		builder.AlertAction(opts.Action)
	}
	if len(opts.URLArgs) > 0 {
		builder.URLArgs(opts.URLArgs)
	}
	if opts.ActionCategory != "" {
		builder.Category(opts.ActionCategory)
	}
	if opts.ContentAvailable {
		builder.ContentAvailable()
	}
	if opts.MutableContent {
		builder.MutableContent()
	}

	aps, err := encodeAps(builder)
	if err != nil {
		return nil, err
	}

	custom := make(dispatch.CustomData, 0, len(msg.UserData)+1)
	if pushMessageID != "" {
		custom = custom.Set(PushIDKey, pushMessageID)
	}
	for _, f := range msg.UserData {
		// The aps dictionary is reserved; the builder owns it.
		if f.Key == "aps" {
			continue
		}
		custom = custom.Set(f.Key, f.Value)
	}

	body, err := custom.AppendTo(aps)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", dispatch.ErrPayloadTooLarge, len(body), MaxPayloadSize)
	}
	return body, nil
}

// encodeAps serializes the builder without HTML escaping. The builder's own
// MarshalJSON escapes, so its output is decoded and written again.
func encodeAps(builder *payload.Payload) ([]byte, error) {
	escaped, err := json.Marshal(builder)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aps dictionary: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(escaped))
	dec.UseNumber()
	var content map[string]any
	if err := dec.Decode(&content); err != nil {
		return nil, fmt.Errorf("failed to decode aps dictionary: %w", err)
	}
	return dispatch.EncodeJSON(content)
}

// ResolvePushType classifies a message as a visible alert or a silent
// background update.
func ResolvePushType(msg dispatch.Message) apns2.EPushType {
	if msg.Alert != "" || msg.Sound != "" {
		return apns2.PushTypeAlert
	}
	return apns2.PushTypeBackground
}
