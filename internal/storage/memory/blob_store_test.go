package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"found":true}`)
	uri, err := store.PutObject(context.Background(), "results/123/abc.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://results/123/abc.json", uri)

	payload[0] = 'X'
	stored, ok := store.Object("results/123/abc.json")
	require.True(t, ok)
	require.Equal(t, `{"found":true}`, string(stored))
	require.Equal(t, 1, store.Len())

	_, ok = store.Object("missing")
	require.False(t, ok)
}
