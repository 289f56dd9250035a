package fetch

import (
	"context"
	"log/slog"
)

type blockFallback struct {
	primary   Fetcher
	alternate Fetcher
}

// WithBlockFallback returns a Fetcher that switches to alternate as soon as
// primary reports a BlockedError. Other failures are returned unchanged.
func WithBlockFallback(primary, alternate Fetcher) Fetcher {
	if alternate == nil {
		return primary
	}
	return &blockFallback{primary: primary, alternate: alternate}
}

func (b *blockFallback) Fetch(ctx context.Context, req Request) (*Document, error) {
	doc, err := b.primary.Fetch(ctx, req)
	if err == nil || !IsBlocked(err) {
		return doc, err
	}
	slog.Info("fetch: primary blocked, using alternate fetcher", "url", req.URL, "error", err)
	return b.alternate.Fetch(ctx, req)
}
