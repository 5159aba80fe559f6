package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "got %v outside [%v, %v]", got, before, after)
}

func TestClockSince(t *testing.T) {
	t.Parallel()

	clk := New()
	require.GreaterOrEqual(t, clk.Since(clk.Now().Add(-time.Minute)), time.Minute)
}
