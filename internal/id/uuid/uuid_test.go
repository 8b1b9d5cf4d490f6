package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIDUniqueV7(t *testing.T) {
	t.Parallel()

	gen := New()
	a, err := gen.NewID()
	require.NoError(t, err)
	b, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	parsed, err := goUUID.Parse(a)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
	require.LessOrEqual(t, a[:8], b[:8])
}

func TestValid(t *testing.T) {
	t.Parallel()

	id, err := New().NewID()
	require.NoError(t, err)
	require.True(t, Valid(id))
	require.False(t, Valid("run-1"))
	require.False(t, Valid(""))
}
