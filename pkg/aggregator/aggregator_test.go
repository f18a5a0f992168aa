package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cptnfren/teltubby/pkg/types"
	"github.com/stretchr/testify/require"
)

func collector() (Emit, func() []*types.MessageUnit) {
	var mu sync.Mutex
	var got []*types.MessageUnit
	emit := func(ctx context.Context, unit *types.MessageUnit) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, unit)
	}
	return emit, func() []*types.MessageUnit {
		mu.Lock()
		defer mu.Unlock()
		out := make([]*types.MessageUnit, len(got))
		copy(out, got)
		return out
	}
}

func TestSubmitWithoutGroupEmitsImmediately(t *testing.T) {
	emit, results := collector()
	a := New(50*time.Millisecond, 10, emit)

	a.Submit(context.Background(), &types.MessageUnit{ChatID: 1, MessageID: 1})

	require.Len(t, results(), 1)
}

func TestSubmitWithGroupWaitsForWindow(t *testing.T) {
	emit, results := collector()
	a := New(30*time.Millisecond, 10, emit)

	a.Submit(context.Background(), &types.MessageUnit{
		ChatID: 1, MessageID: 1, MediaGroupID: "g1",
		Items: []*types.Item{{Ordinal: 1}},
	})
	a.Submit(context.Background(), &types.MessageUnit{
		ChatID: 1, MessageID: 2, MediaGroupID: "g1",
		Items: []*types.Item{{Ordinal: 1}},
	})

	require.Empty(t, results())
	require.Eventually(t, func() bool { return len(results()) == 1 }, time.Second, 5*time.Millisecond)

	unit := results()[0]
	require.Len(t, unit.Items, 2)
	require.Equal(t, 1, unit.Items[0].Ordinal)
	require.Equal(t, 2, unit.Items[1].Ordinal)
}

func TestSubmitClosesOnMaxItems(t *testing.T) {
	emit, results := collector()
	a := New(time.Second, 2, emit)

	a.Submit(context.Background(), &types.MessageUnit{
		ChatID: 1, MessageID: 1, MediaGroupID: "g2",
		Items: []*types.Item{{Ordinal: 1}},
	})
	a.Submit(context.Background(), &types.MessageUnit{
		ChatID: 1, MessageID: 2, MediaGroupID: "g2",
		Items: []*types.Item{{Ordinal: 1}},
	})

	require.Eventually(t, func() bool { return len(results()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestLateArrivalFragmentsRatherThanMerges(t *testing.T) {
	emit, results := collector()
	a := New(20*time.Millisecond, 10, emit)

	a.Submit(context.Background(), &types.MessageUnit{
		ChatID: 1, MessageID: 1, MediaGroupID: "g3",
		Items: []*types.Item{{Ordinal: 1}},
	})
	require.Eventually(t, func() bool { return len(results()) == 1 }, time.Second, 5*time.Millisecond)

	a.Submit(context.Background(), &types.MessageUnit{
		ChatID: 1, MessageID: 2, MediaGroupID: "g3",
		Items: []*types.Item{{Ordinal: 1}},
	})
	require.Eventually(t, func() bool { return len(results()) == 2 }, time.Second, 5*time.Millisecond)

	second := results()[1]
	require.Contains(t, second.Notes, "fragmented: late arrival after album window closed")
}

func TestDistinctGroupsAggregateIndependently(t *testing.T) {
	emit, results := collector()
	a := New(30*time.Millisecond, 10, emit)

	a.Submit(context.Background(), &types.MessageUnit{ChatID: 1, MessageID: 1, MediaGroupID: "a"})
	a.Submit(context.Background(), &types.MessageUnit{ChatID: 1, MessageID: 2, MediaGroupID: "b"})

	require.Eventually(t, func() bool { return len(results()) == 2 }, time.Second, 5*time.Millisecond)
}
