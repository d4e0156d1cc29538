// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidCertificate is returned when a variant's certificate cannot be
	// parsed, the passphrase is wrong, or the certificate has expired.
	ErrInvalidCertificate = errors.New("certificate is invalid or expired")
	// ErrPayloadTooLarge is returned when the serialized payload exceeds the APNs limit.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	// ErrConnectionUnavailable is returned when no APNs connection could be built for a variant.
	ErrConnectionUnavailable = errors.New("apns connection unavailable")
	// ErrVariantNotFound is returned by a VariantStore for unknown variant IDs.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrSinkFull is returned by a bounded InvalidTokenSink that cannot accept more entries.
	ErrSinkFull = errors.New("invalid token sink is full")
)

// Variant is the credential bundle of one push channel.
// It is owned by the caller and never modified by the dispatcher.
type Variant struct {
	ID          string `json:"id" firestore:"-"`
	Certificate []byte `json:"certificate" firestore:"certificate"`
	Passphrase  string `json:"passphrase" firestore:"passphrase"`
	Production  bool   `json:"production" firestore:"production"`
}

// SenderCallback receives the synchronous outcome of a batch submission.
// OnSuccess means a connection was obtained and sends were initiated,
// not that any notification was delivered.
type SenderCallback interface {
	OnSuccess()
	OnError(reason string)
}

// Sender is the contract of the APNs dispatch engine.
type Sender interface {
	SendBatch(ctx context.Context, variant Variant, tokens []string, req PushRequest, cb SenderCallback) error
}

// VariantStore resolves variant credentials by ID.
type VariantStore interface {
	Fetch(ctx context.Context, variantID string) (*Variant, error)
}

// VariantInvalidator is notified when a variant's connection could not be
// established, so cached state for it can be rebuilt on next use.
type VariantInvalidator interface {
	InvalidateVariant(ctx context.Context, variantID string)
}

// InvalidToken is a device token the provider reported as permanently unusable.
type InvalidToken struct {
	Token     string    `json:"token"`
	VariantID string    `json:"variantId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// InvalidTokenSink collects invalid tokens until an external registry drains them.
type InvalidTokenSink interface {
	// Add records a token. Implementations must be safe for concurrent use.
	Add(ctx context.Context, token InvalidToken) error
	// Drain removes and returns up to limit entries. A limit <= 0 drains everything.
	Drain(ctx context.Context, limit int) ([]InvalidToken, error)
}

// InvalidatorFunc adapts a function to VariantInvalidator.
type InvalidatorFunc func(ctx context.Context, variantID string)

func (f InvalidatorFunc) InvalidateVariant(ctx context.Context, variantID string) {
	f(ctx, variantID)
}

// FanOutInvalidator forwards an invalidation to every member in order.
type FanOutInvalidator []VariantInvalidator

func (f FanOutInvalidator) InvalidateVariant(ctx context.Context, variantID string) {
	for _, inv := range f {
		if inv != nil {
			inv.InvalidateVariant(ctx, variantID)
		}
	}
}
