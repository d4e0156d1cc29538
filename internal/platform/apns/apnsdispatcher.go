// --- File: internal/platform/apns/apnsdispatcher.go ---
// Package apns delivers notification batches to the Apple Push Notification
// Service over certificate-authenticated HTTP/2 connections, one per variant.
package apns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sideshow/apns2"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tinywideclouds/go-apns-sender/internal/platform/apns"

// defaultCloseTimeout applies when Close is given a context without a deadline.
const defaultCloseTimeout = 30 * time.Second

// ErrClosed is returned for batches submitted after Close.
var ErrClosed = errors.New("apns dispatcher closed")

// ConnectionFactory builds a connection for a variant on a cache miss.
type ConnectionFactory interface {
	Connect(ctx context.Context, variant dispatch.Variant) (Conn, error)
}

// Config holds the dispatcher tuning knobs.
type Config struct {
	// MaxInFlight caps concurrent sends across all batches. <= 0 is unlimited.
	MaxInFlight int
	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
	// Now defaults to time.Now.
	Now func() time.Time
}

// Stats is a snapshot of the dispatcher counters.
type Stats struct {
	Submitted         uint64
	Accepted          uint64
	Rejected          uint64
	InvalidTokens     uint64
	TransportFailures uint64
}

type counters struct {
	submitted         atomic.Uint64
	accepted          atomic.Uint64
	rejected          atomic.Uint64
	invalidTokens     atomic.Uint64
	transportFailures atomic.Uint64
}

// Dispatcher sends batches for any number of variants, reusing one cached
// connection per variant.
type Dispatcher struct {
	connector   ConnectionFactory
	cache       *ConnectionCache
	classifier  *ResponseClassifier
	invalidator dispatch.VariantInvalidator
	pool        *ants.Pool
	tracer      trace.Tracer
	now         func() time.Time
	stats       counters
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher. The invalidator may be nil, in which
// case a failed connection only evicts the dispatcher's own cache entry.
func NewDispatcher(
	cfg Config,
	connector ConnectionFactory,
	sink dispatch.InvalidTokenSink,
	invalidator dispatch.VariantInvalidator,
	logger *slog.Logger,
) (*Dispatcher, error) {
	pool, err := ants.NewPool(cfg.MaxInFlight)
	if err != nil {
		return nil, fmt.Errorf("failed to create send pool: %w", err)
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Dispatcher{
		connector:   connector,
		cache:       NewConnectionCache(logger),
		classifier:  NewResponseClassifier(sink, now, logger),
		invalidator: invalidator,
		pool:        pool,
		tracer:      tp.Tracer(tracerName),
		now:         now,
		logger:      logger.With("component", "APNSDispatcher"),
	}, nil
}

// SetInvalidator wires the invalidation fan-out after construction, since the
// fan-out usually includes the dispatcher itself.
func (d *Dispatcher) SetInvalidator(invalidator dispatch.VariantInvalidator) {
	d.invalidator = invalidator
}

// SendBatch delivers req to every token of the variant.
//
// Exactly one of cb.OnSuccess or cb.OnError is called for a non-empty batch.
// OnSuccess means the batch was handed to APNs, not that every token was
// accepted; per-token results surface through the invalid-token sink and
// Stats. The returned error mirrors OnError.
func (d *Dispatcher) SendBatch(
	ctx context.Context,
	variant dispatch.Variant,
	tokens []string,
	req dispatch.PushRequest,
	cb dispatch.SenderCallback,
) error {
	if len(tokens) == 0 {
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "apns.send_batch", trace.WithAttributes(
		attribute.String("apns.variant_id", variant.ID),
		attribute.Int("apns.tokens", len(tokens)),
	))
	defer span.End()

	fail := func(reason string, err error) error {
		span.SetStatus(otelcodes.Error, reason)
		span.RecordError(err)
		cb.OnError(reason)
		return err
	}

	if d.pool.IsClosed() {
		return fail("Unable to send notifications, sender is shutting down", ErrClosed)
	}

	if !CheckValidity(variant.Certificate, variant.Passphrase, d.now()) {
		d.logger.Warn("Certificate invalid or expired", "variant_id", variant.ID)
		return fail("The provided certificate is invalid or expired for variant "+variant.ID, dispatch.ErrInvalidCertificate)
	}

	topic, err := ReadDefaultTopic(variant.Certificate, variant.Passphrase)
	if err != nil {
		d.logger.Warn("Certificate carries no topic", "variant_id", variant.ID, "err", err)
		return fail("The provided certificate has no topic for variant "+variant.ID,
			fmt.Errorf("%w: %v", dispatch.ErrInvalidCertificate, err))
	}

	body, err := BuildPayload(req.Message, req.PushMessageID)
	if err != nil {
		d.logger.Info("Payload rejected", "variant_id", variant.ID, "err", err)
		return fail("Nothing sent to APNs since the payload is too large", err)
	}

	conn, err := d.cache.GetOrCreate(ctx, variant.ID, func(ctx context.Context) (Conn, error) {
		return d.connector.Connect(ctx, variant)
	})
	if err != nil {
		d.logger.Error("Unable to send notifications, client is not connected", "variant_id", variant.ID, "err", err)
		d.invalidate(ctx, variant.ID)
		return fail(fmt.Sprintf("Unable to connect to APNs (%v)", err),
			fmt.Errorf("%w: %v", dispatch.ErrConnectionUnavailable, err))
	}

	cb.OnSuccess()

	expiration := ResolveExpiration(req.TimeToLive, d.now())
	pushType := ResolvePushType(req.Message)
	sendCtx := context.WithoutCancel(ctx)

	d.logger.Debug("Sending payload to APNs", "variant_id", variant.ID, "topic", topic, "tokens", len(tokens))

	for _, deviceToken := range tokens {
		n := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       topic,
			Payload:     body,
			Expiration:  expiration,
			Priority:    apns2.PriorityHigh,
			PushType:    pushType,
		}

		d.stats.submitted.Add(1)
		if err := d.pool.Submit(func() { d.send(sendCtx, conn, variant.ID, n) }); err != nil {
			d.stats.transportFailures.Add(1)
			d.logger.Error("Failed to schedule APNs send", "variant_id", variant.ID, "token", deviceToken, "err", err)
		}
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, conn Conn, variantID string, n *apns2.Notification) {
	res, err := conn.Push(ctx, n)
	if err != nil {
		d.stats.transportFailures.Add(1)
		d.logger.Error("APNs transport failed", "variant_id", variantID, "token", n.DeviceToken, "err", err)
		return
	}
	if res == nil {
		d.stats.transportFailures.Add(1)
		d.logger.Error("APNs returned no response", "variant_id", variantID, "token", n.DeviceToken)
		return
	}

	switch d.classifier.Classify(ctx, variantID, n.DeviceToken, res) {
	case OutcomeAccepted:
		d.stats.accepted.Add(1)
	case OutcomeInvalidToken:
		d.stats.invalidTokens.Add(1)
	default:
		d.stats.rejected.Add(1)
	}
}

func (d *Dispatcher) invalidate(ctx context.Context, variantID string) {
	if d.invalidator == nil {
		d.cache.Invalidate(variantID)
		return
	}
	d.invalidator.InvalidateVariant(ctx, variantID)
}

// InvalidateVariant evicts and closes the cached connection of the variant.
func (d *Dispatcher) InvalidateVariant(_ context.Context, variantID string) {
	d.cache.Invalidate(variantID)
}

// Stats returns a snapshot of the send counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:         d.stats.submitted.Load(),
		Accepted:          d.stats.accepted.Load(),
		Rejected:          d.stats.rejected.Load(),
		InvalidTokens:     d.stats.invalidTokens.Load(),
		TransportFailures: d.stats.transportFailures.Load(),
	}
}

// Close stops accepting batches, waits for in-flight sends until ctx expires
// and closes every cached connection.
func (d *Dispatcher) Close(ctx context.Context) error {
	timeout := defaultCloseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	err := d.pool.ReleaseTimeout(timeout)
	d.cache.Close()
	if err != nil && !errors.Is(err, ants.ErrPoolClosed) {
		return fmt.Errorf("failed to drain in-flight sends: %w", err)
	}
	return nil
}
