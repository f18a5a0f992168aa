/*
Package metrics defines and registers teltubby's Prometheus metrics, and
serves both them and the /healthz /readyz endpoints.

Metrics are package-level vars registered once at init; every collaborator
(the ingestion pipeline, the album aggregator, the job queue, the worker,
the quota gate) increments or sets them directly rather than threading a
registry handle through every call.

# Categories

  - Ingestion (MessagesTotal, ItemsTotal, BytesUploadedTotal,
    DedupHitsTotal, ItemsSkippedTotal, ErrorsTotal, PipelineDuration,
    UploadDuration) — one set per unit/item processed.
  - Albums (AlbumsOpenGauge, AlbumsFragmentedTotal).
  - Jobs (JobsByStateGauge, JobTransitionsTotal, JobsProcessedTotal,
    WorkerSessionHealthy).
  - Quota (QuotaGateOpen, QuotaGateTransitionsTotal, QuotaUsedRatio).

# Readiness

HealthStatus/HealthHandler/ReadyHandler/LivenessHandler back a small
component registry (RegisterComponent/UpdateComponent) that the bot
process's main populates for "store", "broker" and "quota_gate" at
startup, then keeps current as each collaborator's state changes.
GetReadiness requires all three to be healthy and registered.

# Collector

Collector polls the dedup/job store and the object store on an interval to
refresh the gauges that aren't naturally updated on their own event path
(job counts by state, bucket usage ratio).
*/
package metrics
