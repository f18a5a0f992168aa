/*
Package quota is the quota gate (C9): a single periodic poller over the
object store's bucket usage ratio, exposed as a cached, non-blocking
OPEN/CLOSED check for the ingestion pipeline and the queue worker.

OPEN means ratio < 1.0 or unknown (backend doesn't report usage, or no
quota is configured); CLOSED means ratio >= 1.0. While CLOSED, inline
ingestion refuses new units with quota_full and the queue worker
processes no delivery: each one it receives is requeued after a delay,
while its broker consumer stays subscribed.

Gate.Start launches the poll loop as a long-lived task sharing the
process, mirroring pkg/metrics.Collector's ticker shape. Threshold
crossings are logged and counted (QuotaGateTransitionsTotal); the current
state and ratio are kept in QuotaGateOpen/QuotaUsedRatio gauges regardless
of whether a crossing occurred, so /metrics always reflects the latest
poll even between transitions.
*/
package quota
