package netsync

import (
	"context"
	"time"
)

// leaderTimeoutLoop forces an own block whenever no new own block appears
// for LeaderTimeout
func (ns *NetworkSyncer) leaderTimeoutLoop(ctx context.Context, handle *syncerHandle) {
	for {
		notified := handle.notified()
		round := handle.lastOwnRound()

		timer := time.NewTimer(ns.cfg.LeaderTimeout)
		select {
		case <-timer.C:
			log.Debugf("No own block after round %d for %s, forcing one", round, ns.cfg.LeaderTimeout)
			ns.metrics.leaderTimeouts.Inc(1)
			handle.forceNewBlock(round)
		case <-notified:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
