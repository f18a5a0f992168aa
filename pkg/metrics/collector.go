package metrics

import (
	"context"
	"time"
)

// JobStateSource is the capability the Collector needs from the local job
// table to keep JobsByStateGauge current. pkg/store's Store satisfies it.
type JobStateSource interface {
	CountJobsByState(ctx context.Context) (map[string]int, error)
}

// UsageRatioSource is the capability the Collector needs from the object
// store gateway to keep QuotaUsedRatio current. pkg/objectstore's
// ObjectStore satisfies it.
type UsageRatioSource interface {
	UsedRatio(ctx context.Context) (ratio float64, ok bool, err error)
}

// Collector periodically refreshes the gauges that have no natural update
// point on their own event path: job counts by state, and bucket usage
// ratio.
type Collector struct {
	jobs   JobStateSource
	store  UsageRatioSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(jobs JobStateSource, store UsageRatioSource) *Collector {
	return &Collector{
		jobs:   jobs,
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15 second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectJobMetrics(ctx)
	c.collectUsageMetrics(ctx)
}

func (c *Collector) collectJobMetrics(ctx context.Context) {
	counts, err := c.jobs.CountJobsByState(ctx)
	if err != nil {
		return
	}
	for state, count := range counts {
		JobsByStateGauge.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectUsageMetrics(ctx context.Context) {
	ratio, ok, err := c.store.UsedRatio(ctx)
	if err != nil || !ok {
		return
	}
	QuotaUsedRatio.Set(ratio)
}
