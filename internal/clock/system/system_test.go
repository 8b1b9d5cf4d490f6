package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowUTCMicrosecond(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
	require.Zero(t, got.Nanosecond()%int(time.Microsecond))
}

func TestNowNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	require.False(t, clk.Now().Before(first))
}
