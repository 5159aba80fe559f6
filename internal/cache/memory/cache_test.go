package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-queue/internal/clock/manual"
	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

func TestCacheStoreAndLookup(t *testing.T) {
	t.Parallel()

	clk := manual.New(time.Unix(1_700_000_000, 0))
	c := New(time.Hour, clk)

	_, ok := c.Lookup("12345678901")
	require.False(t, ok)

	c.Store("12345678901", lookup.Result{Key: "12345678901", Found: true, Records: []lookup.Record{{"a": "1"}}})
	got, ok := c.Lookup("12345678901")
	require.True(t, ok)
	require.True(t, got.Found)

	got.Records[0]["a"] = "mutated"
	again, ok := c.Lookup("12345678901")
	require.True(t, ok)
	require.Equal(t, "1", again.Records[0]["a"])
}

func TestCacheNotFoundIsCached(t *testing.T) {
	t.Parallel()

	c := New(time.Hour, manual.New(time.Now()))
	c.Store("10987654321", lookup.Result{Key: "10987654321", Found: false})
	got, ok := c.Lookup("10987654321")
	require.True(t, ok)
	require.False(t, got.Found)
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	clk := manual.New(time.Unix(1_700_000_000, 0))
	c := New(time.Minute, clk)
	c.Store("a", lookup.Result{Found: true})
	clk.Advance(30 * time.Second)
	c.Store("b", lookup.Result{Found: true})

	clk.Advance(45 * time.Second)
	_, ok := c.Lookup("a")
	require.False(t, ok)
	_, ok = c.Lookup("b")
	require.True(t, ok)

	require.Equal(t, 2, c.Len())
	require.Equal(t, 1, c.Sweep(clk.Now()))
	require.Equal(t, 1, c.Len())
}
