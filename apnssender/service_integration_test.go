// --- File: apnssender/service_integration_test.go ---
//go:build integration

package apnssender_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-apns-sender/apnssender"
	"github.com/tinywideclouds/go-apns-sender/apnssender/config"
	"github.com/tinywideclouds/go-apns-sender/internal/feedback"
	"github.com/tinywideclouds/go-apns-sender/internal/platform/apns"
	fsStore "github.com/tinywideclouds/go-apns-sender/internal/storage/firestore"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

// --- MOCKS ---

// recordingSender stands in for the APNs dispatcher.
type recordingSender struct {
	mu          sync.Mutex
	callCount   int
	lastVariant dispatch.Variant
	lastTokens  []string
	lastRequest dispatch.PushRequest
}

func (m *recordingSender) SendBatch(_ context.Context, variant dispatch.Variant, tokens []string, req dispatch.PushRequest, cb dispatch.SenderCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastVariant = variant
	m.lastTokens = tokens
	m.lastRequest = req
	cb.OnSuccess()
	return nil
}

func (m *recordingSender) Stats() apns.Stats { return apns.Stats{} }

func (m *recordingSender) Close(context.Context) error { return nil }

func (m *recordingSender) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *recordingSender) Last() (dispatch.Variant, []string, dispatch.PushRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastVariant, m.lastTokens, m.lastRequest
}

// staticVariantStore knows no variants.
type staticVariantStore struct{}

func (staticVariantStore) Fetch(_ context.Context, variantID string) (*dispatch.Variant, error) {
	return nil, fmt.Errorf("%w: %s", dispatch.ErrVariantNotFound, variantID)
}

func (staticVariantStore) InvalidateVariant(context.Context, string) {}

// --- TEST ---

func TestAPNsSender_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { fsClient.Close() })

	// 2. Variant Store (Firestore Implementation)
	variantStore := fsStore.NewVariantStore(fsClient, "")

	t.Run("Full Lifecycle: Register Variant -> Process -> Dispatch", func(t *testing.T) {
		// Arrange
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		sender := &recordingSender{}

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := apnssender.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			apnssender.Dependencies{
				Consumer:       consumer,
				Sender:         sender,
				VariantStore:   variantStore,
				Sink:           feedback.NewMemorySink(0),
				Invalidator:    staticVariantStore{},
				AuthMiddleware: func(h http.Handler) http.Handler { return h }, // No-op Auth
			},
			logger,
		)
		require.NoError(t, err)

		// Start Service
		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { svc.Start(svcCtx) }()
		t.Cleanup(func() { svc.Shutdown(context.Background()) })

		// Step A: Register the variant credentials
		err = variantStore.Save(ctx, dispatch.Variant{ID: "ios-integ", Certificate: []byte("cert"), Production: true})
		require.NoError(t, err)

		// Step B: Publish a batch for that variant
		payload, err := json.Marshal(map[string]any{
			"variantId": "ios-integ",
			"tokens":    []string{"ios-token-999"},
			"message":   map[string]any{"alert": "Hello", "badge": 3},
			"ttl":       600,
		})
		require.NoError(t, err)

		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		// Assert: Sender called with the stored variant and the published tokens
		require.Eventually(t, func() bool {
			return sender.CallCount() == 1
		}, 10*time.Second, 100*time.Millisecond)

		variant, tokens, req := sender.Last()
		assert.Equal(t, "ios-integ", variant.ID)
		assert.True(t, variant.Production)
		assert.Equal(t, []string{"ios-token-999"}, tokens)
		assert.Equal(t, 3, req.Message.Badge)
		assert.Equal(t, 600, req.TimeToLive)
		assert.NotEmpty(t, req.PushMessageID)
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
