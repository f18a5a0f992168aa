package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker confirms a dependency's port accepts connections. It's the
// cheapest possible reachability probe — used for the broker, and for the
// object store before/instead of the heavier HTTPChecker liveness probe is
// available.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker builds a checker dialing address ("host:port") with a
// 5 second default timeout.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 5 * time.Second}
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("dial %s: %v", t.Address, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	_ = conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("connected to %s", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout overrides the default per-check dial timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
