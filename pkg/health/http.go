package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker probes a dependency's own liveness endpoint over HTTP rather
// than just dialing its port — useful for MinIO, whose `/minio/health/live`
// answers 200 only once the server has finished initializing, unlike a bare
// TCP accept which succeeds the moment the listener is up.
type HTTPChecker struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPChecker builds a GET-based liveness checker against url. Healthy
// means exactly HTTP 200 — MinIO's liveness probe never returns anything
// else on success, so there's no range to configure.
func NewHTTPChecker(url string) *HTTPChecker {
	timeout := 5 * time.Second
	return &HTTPChecker{
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{Timeout: timeout},
	}
}

// NewObjectStoreChecker targets MinIO's liveness path on endpoint, the same
// host:port the object store gateway itself connects to.
func NewObjectStoreChecker(endpoint string, useSSL bool) *HTTPChecker {
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return NewHTTPChecker(fmt.Sprintf("%s://%s/minio/health/live", scheme, endpoint))
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("build request: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("request failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("liveness endpoint returned %s", resp.Status),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{Healthy: true, Message: "liveness endpoint OK", CheckedAt: start, Duration: time.Since(start)}
}

func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithTimeout overrides the default per-check timeout.
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Timeout = timeout
	h.Client.Timeout = timeout
	return h
}
