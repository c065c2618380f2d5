package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonotonicClockClampsBackwardSteps(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	wall := []time.Time{base, base.Add(-time.Second), base.Add(2 * time.Second)}
	i := 0
	clock := NewMonotonicClockFunc(func() time.Time {
		t := wall[i]
		if i < len(wall)-1 {
			i++
		}
		return t
	})

	t1 := clock.Now("conv")
	t2 := clock.Now("conv") // wall clock stepped back
	t3 := clock.Now("conv")

	require.Equal(t, base, t1)
	require.False(t, t2.Before(t1))
	require.Equal(t, t1, t2)
	require.True(t, t3.After(t2))
}

func TestMonotonicClockPerConversation(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	wall := []time.Time{base.Add(time.Second), base}
	i := 0
	clock := NewMonotonicClockFunc(func() time.Time {
		t := wall[i]
		if i < len(wall)-1 {
			i++
		}
		return t
	})

	// The clamp is per conversation: another conversation is free to observe
	// the earlier wall time.
	require.Equal(t, base.Add(time.Second), clock.Now("a"))
	require.Equal(t, base, clock.Now("b"))
}

func TestMonotonicClockMicrosecondPrecision(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	clock := NewMonotonicClockFunc(func() time.Time { return base })
	got := clock.Now("conv")
	require.Equal(t, base.Truncate(time.Microsecond), got)
}
