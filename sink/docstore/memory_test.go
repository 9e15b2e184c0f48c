package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/gridsx/pipegos/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpsertDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "customers", "1", event.Row{"name": "alice"}))
	require.NoError(t, s.Upsert(ctx, "customers", "1", event.Row{"name": "alicia"}))
	assert.Equal(t, 1, s.Count("customers"))
	doc, ok := s.Get("customers", "1")
	require.True(t, ok)
	assert.Equal(t, "alicia", doc["name"])

	require.NoError(t, s.Delete(ctx, "customers", "1"))
	assert.Equal(t, 0, s.Count("customers"))

	// deleting an absent document succeeds
	require.NoError(t, s.Delete(ctx, "customers", "1"))
	require.NoError(t, s.Delete(ctx, "orders", "1"))
}

func TestMemoryStoreErrorInjection(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")
	s.FailWith(boom)

	assert.Equal(t, boom, s.Upsert(ctx, "customers", "1", event.Row{"name": "alice"}))
	require.NoError(t, s.Upsert(ctx, "customers", "1", event.Row{"name": "alice"}))
	assert.Equal(t, 2, s.Ops())
}
