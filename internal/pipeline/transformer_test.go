// --- File: internal/pipeline/transformer_test.go ---
package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-apns-sender/internal/pipeline"
)

func TestPushRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		inputMessage          *messagepipeline.Message
		expectError           bool
		expectedErrorContains string
	}{
		{
			name: "Happy Path - Valid Request",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(
					`{"variantId":"ios-prod","pushMessageId":"push-1","tokens":["a"],"message":{"alert":"hi"}}`,
				)},
			},
			expectError: false,
		},
		{
			name: "Failure - Malformed JSON",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-2", Payload: []byte("not-json")},
			},
			expectError:           true,
			expectedErrorContains: "failed to unmarshal push request",
		},
		{
			name: "Failure - Missing Variant",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-3", Payload: []byte(`{"tokens":["a"]}`)},
			},
			expectError:           true,
			expectedErrorContains: "no variantId",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, skip, err := pipeline.PushRequestTransformer(ctx, tc.inputMessage)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
			} else {
				require.NoError(t, err)
				assert.False(t, skip)
				assert.Equal(t, "ios-prod", req.VariantID)
				assert.Equal(t, "push-1", req.PushMessageID)
			}
		})
	}

	t.Run("Missing pushMessageId is generated", func(t *testing.T) {
		msg := &messagepipeline.Message{
			MessageData: messagepipeline.MessageData{ID: "msg-4", Payload: []byte(`{"variantId":"ios-prod","tokens":["a"]}`)},
		}

		req, skip, err := pipeline.PushRequestTransformer(ctx, msg)

		require.NoError(t, err)
		assert.False(t, skip)
		_, parseErr := uuid.Parse(req.PushMessageID)
		assert.NoError(t, parseErr)
	})
}
