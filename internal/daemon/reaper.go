package daemon

import (
	"time"

	"skilld/internal/logging"
)

// runReaper periodically checks the idle clock and requests shutdown once
// the timeout elapses. The idle check and tool calls share one mutex inside
// the session, so the reaper can never interrupt an in-flight call.
func (d *Daemon) runReaper() {
	if d.idleTimeout <= 0 {
		d.logger.Debug("idle reaper disabled")
		return
	}

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopRequested:
			return
		case <-ticker.C:
			if d.sess.BeginShutdownIfIdle(d.idleTimeout) {
				d.logger.Info("reaping idle daemon",
					logging.Duration("idle_timeout", d.idleTimeout))
				_ = d.requestStop("idle timeout")
				return
			}
		}
	}
}
