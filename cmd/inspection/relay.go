package main

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/sse"
	"go.uber.org/zap"
)

type relayer interface {
	Relay(ctx context.Context, hub *sse.Hub) error
}

// runRelay keeps the cross-instance event relay alive until ctx is done. A
// dropped subscription degrades SSE to local events only; it never stops the
// API, so failures are logged and retried after the given interval.
func runRelay(ctx context.Context, r relayer, hub *sse.Hub, logger *zap.Logger, retry time.Duration) error {
	for {
		err := r.Relay(ctx, hub)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Warn("Event relay failed, retrying", zap.Error(err), zap.Duration("retry_in", retry))
		} else {
			logger.Warn("Event relay ended, restarting", zap.Duration("retry_in", retry))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}
