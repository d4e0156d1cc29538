package feedback_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-apns-sender/internal/feedback"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

func TestMemorySink(t *testing.T) {
	ctx := context.Background()

	t.Run("Concurrent adds lose nothing", func(t *testing.T) {
		sink := feedback.NewMemorySink(0)

		var wg sync.WaitGroup
		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := sink.Add(ctx, dispatch.InvalidToken{Token: fmt.Sprintf("tok-%d", i)})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 200, sink.Len())
		assert.True(t, sink.Contains("tok-42"))
	})

	t.Run("Duplicates are collapsed", func(t *testing.T) {
		sink := feedback.NewMemorySink(0)
		require.NoError(t, sink.Add(ctx, dispatch.InvalidToken{Token: "a", Reason: "BadDeviceToken"}))
		require.NoError(t, sink.Add(ctx, dispatch.InvalidToken{Token: "a", Reason: "Unregistered"}))

		out, err := sink.Drain(ctx, 0)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "Unregistered", out[0].Reason)
	})

	t.Run("Bounded capacity", func(t *testing.T) {
		sink := feedback.NewMemorySink(2)
		require.NoError(t, sink.Add(ctx, dispatch.InvalidToken{Token: "a"}))
		require.NoError(t, sink.Add(ctx, dispatch.InvalidToken{Token: "b"}))
		assert.ErrorIs(t, sink.Add(ctx, dispatch.InvalidToken{Token: "c"}), dispatch.ErrSinkFull)

		// Draining frees room.
		_, err := sink.Drain(ctx, 1)
		require.NoError(t, err)
		assert.NoError(t, sink.Add(ctx, dispatch.InvalidToken{Token: "c"}))
	})

	t.Run("Drain respects limit and order", func(t *testing.T) {
		sink := feedback.NewMemorySink(0)
		for _, tok := range []string{"x", "y", "z"} {
			require.NoError(t, sink.Add(ctx, dispatch.InvalidToken{Token: tok}))
		}

		first, err := sink.Drain(ctx, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "x", first[0].Token)
		assert.Equal(t, "y", first[1].Token)

		rest, err := sink.Drain(ctx, 10)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "z", rest[0].Token)

		empty, err := sink.Drain(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
