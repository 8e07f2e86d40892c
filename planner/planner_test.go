package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlanPrefersWholeWhenWantsCoverMost(t *testing.T) {
	e := NewEstimator()
	e.Observe(10*1024*1024, time.Second, 10*time.Millisecond)

	p := e.Plan(1024*1024, []Want{{Offset: 0, Size: 900 * 1024}}, 4096)
	require.True(t, p.Whole)
}

func TestPlanPrefersRangedForSmallWantInHugeArchive(t *testing.T) {
	e := NewEstimator()
	e.Observe(50*1024*1024, time.Second, 5*time.Millisecond)

	p := e.Plan(500*1024*1024, []Want{{Offset: 1000, Size: 4096}}, 4096)
	require.False(t, p.Whole)
	require.Len(t, p.Ranges, 1)
}

func TestCoalesceMergesNearby(t *testing.T) {
	wants := []Want{
		{Offset: 0, Size: 100},
		{Offset: 150, Size: 50},
		{Offset: 10000, Size: 10},
	}
	merged := coalesce(wants, 100)
	require.Len(t, merged, 2)
	require.Equal(t, Want{Offset: 0, Size: 200}, merged[0])
	require.Equal(t, Want{Offset: 10000, Size: 10}, merged[1])
}

func TestEstimatorObserveConverges(t *testing.T) {
	e := NewEstimator()
	for i := 0; i < 10; i++ {
		e.Observe(100*1024*1024, time.Second, time.Millisecond)
	}
	bw, overhead := e.snapshot()
	require.InDelta(t, 100*1024*1024, bw, 10*1024*1024)
	require.Less(t, overhead, 20*time.Millisecond)
}
