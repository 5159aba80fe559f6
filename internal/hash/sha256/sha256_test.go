package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte(`{"key":"12345678901"}`))
	require.NoError(t, err)
	require.Len(t, got, 64)

	again, err := h.Hash([]byte(`{"key":"12345678901"}`))
	require.NoError(t, err)
	require.Equal(t, got, again)

	other, err := h.Hash([]byte(`{"key":"10987654321"}`))
	require.NoError(t, err)
	require.NotEqual(t, got, other)

	empty, err := h.Hash(nil)
	require.NoError(t, err)
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", empty)
}
