package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	ratio float64
	ok    bool
	err   error
}

func (f *fakeSource) UsedRatio(ctx context.Context) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ratio, f.ok, f.err
}

func (f *fakeSource) set(ratio float64, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratio, f.ok, f.err = ratio, ok, err
}

func TestGateStartsOpen(t *testing.T) {
	g := New(&fakeSource{}, 0)
	open, err := g.Open(context.Background())
	require.NoError(t, err)
	require.True(t, open)
}

func TestGatePollClosesAtFullQuota(t *testing.T) {
	src := &fakeSource{ratio: 0.5, ok: true}
	g := New(src, 0)
	g.poll()
	open, err := g.Open(context.Background())
	require.NoError(t, err)
	require.True(t, open)

	src.set(1.0, true, nil)
	g.poll()
	open, err = g.Open(context.Background())
	require.NoError(t, err)
	require.False(t, open)
}

func TestGateUnknownRatioReadsOpen(t *testing.T) {
	src := &fakeSource{ratio: 0, ok: false}
	g := New(src, 0)
	g.poll()
	open, err := g.Open(context.Background())
	require.NoError(t, err)
	require.True(t, open)
}

func TestGatePollErrorHoldsPreviousState(t *testing.T) {
	src := &fakeSource{ratio: 1.0, ok: true}
	g := New(src, 0)
	g.poll()
	open, _ := g.Open(context.Background())
	require.False(t, open)

	src.set(0, false, errors.New("backend unreachable"))
	g.poll()
	open, _ = g.Open(context.Background())
	require.False(t, open, "a failed poll must not silently reopen the gate")
}

func TestGateRatioReflectsLastPoll(t *testing.T) {
	src := &fakeSource{ratio: 0.73, ok: true}
	g := New(src, 0)
	g.poll()
	require.InDelta(t, 0.73, g.Ratio(), 0.0001)
}
