package server

import (
	"context"
	"log"
	"time"

	"gigline/internal/engine"
)

const defaultSweepInterval = time.Minute

// StartAutoReleaseSweeper runs the escrow auto-release sweep on a ticker
// until ctx is cancelled. A failed cycle only logs; the next cycle picks
// up whatever is still overdue.
func StartAutoReleaseSweeper(ctx context.Context, e engine.Engine, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			released, err := e.ReleaseOverdue(ctx, 0)
			if err != nil {
				log.Printf("sweep: auto-release failed: %v", err)
			} else if released > 0 {
				log.Printf("sweep: auto-released %d mission(s)", released)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
