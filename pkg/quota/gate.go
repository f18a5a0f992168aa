package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cptnfren/teltubby/pkg/events"
	"github.com/cptnfren/teltubby/pkg/log"
	"github.com/cptnfren/teltubby/pkg/metrics"
)

// Source is the capability the gate needs from the object store gateway.
// pkg/objectstore's ObjectStore satisfies it.
type Source interface {
	UsedRatio(ctx context.Context) (ratio float64, ok bool, err error)
}

// Gate is the quota gate (C9): a single periodic poller that keeps a
// cached OPEN/CLOSED state so admission checks on the ingestion path never
// block on an object store round trip.
//
// Unknown ratio (backend doesn't report usage, or no quota configured)
// reads as OPEN per §4.9 ("ratio < 1.0 or unknown").
type Gate struct {
	source   Source
	interval time.Duration

	mu    sync.RWMutex
	open  bool
	ratio float64

	broker *events.Broker
	stopCh chan struct{}
}

// SetBroker attaches the event broker threshold crossings are published
// to; admin notification of a gate closing/reopening is consumed
// elsewhere (pkg/bot's Handler.ConsumeEvents in the bot process,
// consumeEvents in cmd/teltubby-worker). Safe to leave
// unset: a nil broker makes publish a no-op.
func (g *Gate) SetBroker(b *events.Broker) {
	g.broker = b
}

// New creates a gate polling source every interval. The gate starts OPEN
// until the first poll completes.
func New(source Source, interval time.Duration) *Gate {
	return &Gate{
		source:   source,
		interval: interval,
		open:     true,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background poll loop. Call once at process startup.
func (g *Gate) Start() {
	g.poll()
	ticker := time.NewTicker(g.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.poll()
			case <-g.stopCh:
				return
			}
		}
	}()
}

// Stop ends the poll loop.
func (g *Gate) Stop() {
	close(g.stopCh)
}

func (g *Gate) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ratio, ok, err := g.source.UsedRatio(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("quota gate: usage poll failed, holding previous state")
		return
	}

	open := !ok || ratio < 1.0

	g.mu.Lock()
	wasOpen := g.open
	g.open = open
	g.ratio = ratio
	g.mu.Unlock()

	if ok {
		metrics.QuotaUsedRatio.Set(ratio)
	}
	if open {
		metrics.QuotaGateOpen.Set(1)
	} else {
		metrics.QuotaGateOpen.Set(0)
	}

	if wasOpen != open {
		metrics.QuotaGateTransitionsTotal.Inc()
		evtType := events.EventQuotaGateOpened
		msg := "quota gate opened"
		if open {
			log.Logger.Info().Float64("used_ratio", ratio).Msg("quota gate opened")
		} else {
			evtType = events.EventQuotaGateClosed
			msg = "quota gate closed: bucket usage at or above quota"
			log.Logger.Warn().Float64("used_ratio", ratio).Msg(msg)
		}
		if g.broker != nil {
			g.broker.Publish(&events.Event{Type: evtType, Message: msg, Metadata: map[string]string{"used_ratio": fmt.Sprintf("%.4f", ratio)}})
		}
	}
}

// Open implements pkg/ingest.QuotaGate: a cached, non-blocking read of the
// current admission state. ctx is accepted for interface compatibility but
// unused since the check never performs I/O.
func (g *Gate) Open(_ context.Context) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.open, nil
}

// Ratio returns the last polled usage ratio, for admin status surfaces.
func (g *Gate) Ratio() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ratio
}
