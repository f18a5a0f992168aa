package health

import (
	"context"
	"time"

	"github.com/cptnfren/teltubby/pkg/log"
)

// namedChecker pairs a Checker with the component name its Status is
// reported under.
type namedChecker struct {
	name    string
	checker Checker
	status  *Status
	cfg     Config
}

// Monitor runs a fixed set of Checkers on its own interval, applying each
// one's hysteresis, and reports every transition through OnChange. It is
// the generic building block behind a process's /readyz surface: register
// one checker per externally reachable dependency (broker, object store)
// on a single Monitor and let OnChange feed metrics.UpdateComponent.
type Monitor struct {
	checks   []*namedChecker
	interval time.Duration
	onChange func(name string, healthy bool, message string)
	stopCh   chan struct{}
}

// NewMonitor creates a Monitor polling every interval. onChange is called
// once per check (not just on transitions) so the caller's component
// registry always reflects the latest result.
func NewMonitor(interval time.Duration, onChange func(name string, healthy bool, message string)) *Monitor {
	return &Monitor{interval: interval, onChange: onChange, stopCh: make(chan struct{})}
}

// Register adds a named checker with its own hysteresis config. Call
// before Start.
func (m *Monitor) Register(name string, checker Checker, cfg Config) {
	m.checks = append(m.checks, &namedChecker{name: name, checker: checker, status: NewStatus(), cfg: cfg})
}

// Start runs an immediate check of every registered checker, then begins
// the periodic loop. It returns once the initial pass completes so the
// caller's first readiness response already reflects real state.
func (m *Monitor) Start(ctx context.Context) {
	m.runOnce(ctx)
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.runOnce(ctx)
			}
		}
	}()
}

// Stop ends the poll loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) runOnce(ctx context.Context) {
	for _, nc := range m.checks {
		if nc.status.InStartPeriod(nc.cfg) {
			continue
		}
		result := nc.checker.Check(ctx)
		nc.status.Update(result, nc.cfg)
		if !result.Healthy && nc.status.Healthy {
			log.Logger.Warn().Str("component", nc.name).Dur("failing_for", nc.status.FailingSince()).Msg("dependency check failing, not yet past retry threshold")
		}
		if m.onChange != nil {
			m.onChange(nc.name, nc.status.Healthy, result.Message)
		}
	}
}
