package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/cptnfren/teltubby/pkg/metrics"
	"github.com/cptnfren/teltubby/pkg/types"
)

// DefaultWindow is the album aggregation window used when the caller
// configures zero.
const DefaultWindow = 2 * time.Second

// DefaultMaxItems is the sentinel maximum group size that force-closes a
// bucket even before its timer fires.
const DefaultMaxItems = 10

// Emit is called once a bucket closes, with the merged unit ready for
// pre-validation and commit by the ingestion pipeline.
type Emit func(ctx context.Context, unit *types.MessageUnit)

type bucketKey struct {
	chatID  int64
	groupID string
}

type bucket struct {
	unit  *types.MessageUnit
	timer *time.Timer
}

// Aggregator implements the album aggregator (C4): one goroutine-backed
// timer per open (chat_id, media_group_id) bucket. A message with no
// group id is its own unit and is emitted immediately. Within a bucket,
// items are appended in arrival order, which is what fixes their ordinal;
// across buckets there is no ordering guarantee.
type Aggregator struct {
	window   time.Duration
	maxItems int
	emit     Emit

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	seen    map[bucketKey]bool
}

// New creates an Aggregator. window <= 0 uses DefaultWindow; maxItems <= 0
// uses DefaultMaxItems.
func New(window time.Duration, maxItems int, emit Emit) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Aggregator{
		window:   window,
		maxItems: maxItems,
		emit:     emit,
		buckets:  make(map[bucketKey]*bucket),
		seen:     make(map[bucketKey]bool),
	}
}

// Submit hands one incoming message's unit to the aggregator. Units
// without a media group id bypass bucketing entirely.
func (a *Aggregator) Submit(ctx context.Context, unit *types.MessageUnit) {
	if unit.MediaGroupID == "" {
		a.emit(ctx, unit)
		return
	}

	key := bucketKey{chatID: unit.ChatID, groupID: unit.MediaGroupID}

	a.mu.Lock()
	b, open := a.buckets[key]
	if !open {
		if a.seen[key] {
			unit.Notes = append(unit.Notes, "fragmented: late arrival after album window closed")
			metrics.AlbumsFragmentedTotal.Inc()
		}
		b = &bucket{unit: unit}
		a.buckets[key] = b
		metrics.AlbumsOpenGauge.Inc()
		b.timer = time.AfterFunc(a.window, func() { a.closeBucket(ctx, key) })
		a.mu.Unlock()
		return
	}

	b.unit.Items = append(b.unit.Items, unit.Items...)
	if len(b.unit.Items) >= a.maxItems {
		a.mu.Unlock()
		a.closeBucket(ctx, key)
		return
	}
	b.timer.Reset(a.window)
	a.mu.Unlock()
}

func (a *Aggregator) closeBucket(ctx context.Context, key bucketKey) {
	a.mu.Lock()
	b, ok := a.buckets[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.buckets, key)
	a.seen[key] = true
	metrics.AlbumsOpenGauge.Dec()
	a.mu.Unlock()

	for i, item := range b.unit.Items {
		item.Ordinal = i + 1
	}
	a.emit(ctx, b.unit)
}

// Stop cancels every open bucket's timer without emitting it. Call this
// only as part of process shutdown after in-flight units have been given
// a chance to close naturally; it is not a substitute for draining.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, b := range a.buckets {
		b.timer.Stop()
		delete(a.buckets, key)
		metrics.AlbumsOpenGauge.Dec()
	}
}
