package router

import (
	"context"
	"errors"

	"github.com/cptnfren/teltubby/pkg/types"
)

// ErrTooBig is what a Prober returns when the transport refuses to hand
// back a fetchable file handle because the object is too large for the
// bot-protocol path, independent of the declared size hint.
var ErrTooBig = errors.New("fetch_too_big")

// Prober performs a cheap, idempotent, metadata-only check against the
// transport to learn whether an item is actually fetchable over the
// bot-protocol path. It must not download any bytes.
type Prober interface {
	Probe(ctx context.Context, item *types.Item) error
}

// Route classifies an item as inline (bot path) or queue (worker path).
// The declared size hint is untrusted; it only short-circuits the
// obviously-oversize case. Anything within the inline limit is probed,
// since the transport's own refusal is the authoritative signal.
func Route(ctx context.Context, item *types.Item, inlineLimitBytes int64, prober Prober) (types.Route, error) {
	if item.SizeHint > inlineLimitBytes {
		return types.RouteQueue, nil
	}

	if err := prober.Probe(ctx, item); err != nil {
		if errors.Is(err, ErrTooBig) {
			return types.RouteQueue, nil
		}
		return "", err
	}

	return types.RouteInline, nil
}
