package enricher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/medrag/middleware"
	"github.com/sweetpotato0/medrag/orchestrator"
)

func TestContextEnricher(t *testing.T) {
	t.Run("defaults and request id", func(t *testing.T) {
		ctx := middleware.NewContext(context.Background(), "Hi", nil, orchestrator.QueryOptions{})
		m := NewContextEnricher(RequestID(), Defaults(7, true))

		var seen orchestrator.QueryOptions
		require.NoError(t, m.Execute(ctx, func(c *middleware.Context) error {
			seen = c.Options
			return nil
		}))
		assert.Equal(t, 7, seen.TopK)
		assert.True(t, seen.Evaluate)
		assert.NotEmpty(t, ctx.Metadata[MetadataRequestID])
	})

	t.Run("caller values win", func(t *testing.T) {
		ctx := middleware.NewContext(context.Background(), "Hi", nil, orchestrator.QueryOptions{TopK: 2})
		ctx.Metadata[MetadataRequestID] = "req-1"
		require.NoError(t, NewContextEnricher(RequestID(), Defaults(7, false)).Execute(ctx, func(*middleware.Context) error { return nil }))
		assert.Equal(t, 2, ctx.Options.TopK)
		assert.False(t, ctx.Options.Evaluate)
		assert.Equal(t, "req-1", ctx.Metadata[MetadataRequestID])
	})

	t.Run("enricher error stops the chain", func(t *testing.T) {
		called := false
		m := NewContextEnricher(func(*middleware.Context) error { return errors.New("no caller") })
		err := m.Execute(middleware.NewContext(context.Background(), "Hi", nil, orchestrator.QueryOptions{}), func(*middleware.Context) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.False(t, called)
	})
}
