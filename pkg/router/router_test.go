package router

import (
	"context"
	"errors"
	"testing"

	"github.com/cptnfren/teltubby/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	err error
}

func (f fakeProber) Probe(ctx context.Context, item *types.Item) error {
	return f.err
}

func TestRouteOverHintGoesToQueueWithoutProbing(t *testing.T) {
	item := &types.Item{SizeHint: 1000}
	got, err := Route(context.Background(), item, 500, fakeProber{err: errors.New("should not be called")})
	require.NoError(t, err)
	require.Equal(t, types.RouteQueue, got)
}

func TestRouteWithinHintInlineWhenProbeSucceeds(t *testing.T) {
	item := &types.Item{SizeHint: 100}
	got, err := Route(context.Background(), item, 500, fakeProber{})
	require.NoError(t, err)
	require.Equal(t, types.RouteInline, got)
}

func TestRouteWithinHintQueueWhenProbeRefusesTooBig(t *testing.T) {
	item := &types.Item{SizeHint: 100}
	got, err := Route(context.Background(), item, 500, fakeProber{err: ErrTooBig})
	require.NoError(t, err)
	require.Equal(t, types.RouteQueue, got)
}

func TestRoutePropagatesOtherProbeErrors(t *testing.T) {
	item := &types.Item{SizeHint: 100}
	boom := errors.New("boom")
	_, err := Route(context.Background(), item, 500, fakeProber{err: boom})
	require.ErrorIs(t, err, boom)
}
