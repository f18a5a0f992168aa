/*
Package health provides generic liveness probing: an HTTP checker, a TCP
checker, a Status tracker that applies hysteresis (N consecutive failures
before flipping unhealthy, one success to recover), and a Monitor that
runs a fixed set of named checkers on an interval.

teltubby uses it in two places: pkg/worker wraps Fetcher.SessionHealthy in
a Checker and holds job processing only once Status.Healthy goes false
after its configured retry count, rather than on a single flaky probe;
both cmd/teltubby and cmd/teltubby-worker run a Monitor with an
HTTPChecker against the object store's MinIO liveness endpoint (a bare TCP
accept can succeed before MinIO has actually finished starting) and a
TCPChecker against the broker host, feeding pkg/metrics.UpdateComponent so
/readyz reflects live reachability instead of the one-shot state recorded
at startup.

# Checker interface

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

HTTPChecker and TCPChecker both satisfy it; callers hold a Checker value and
never switch on concrete type.

# Hysteresis

	status := health.NewStatus()
	cfg := health.DefaultConfig()
	result := checker.Check(ctx)
	status.Update(result, cfg)
	if !status.Healthy {
		// cfg.Retries consecutive failures observed
	}

# Monitor

	m := health.NewMonitor(20*time.Second, metrics.UpdateComponent)
	m.Register("object_store", health.NewObjectStoreChecker(endpoint, useSSL), health.DefaultConfig())
	m.Start(ctx)

# See also

  - pkg/worker for the session health checker
  - cmd/teltubby and cmd/teltubby-worker for the readiness Monitor
*/
package health
