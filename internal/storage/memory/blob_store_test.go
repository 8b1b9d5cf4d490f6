package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "pages/v1/1.json", "application/json", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://pages/v1/1.json", uri)

	payload[0] = 'C'
	stored, ok := store.Get("pages/v1/1.json")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, []string{"pages/v1/1.json"}, store.Keys())

	_, err = store.PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}
