package netsync

import (
	"context"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter"
)

// sendBlocks streams own blocks with rounds of at least from to the peer,
// in round order and without gaps. A failed send ends the connection.
func (ns *NetworkSyncer) sendBlocks(ctx context.Context, handle *syncerHandle,
	connection *netadapter.NetConnection, from model.RoundNumber) {

	ns.metrics.sendTaskStarted()
	defer ns.metrics.sendTaskFinished()

	next := from
	for ctx.Err() == nil {
		notified := handle.notified()
		blocks := handle.getOwnBlocks(next, ns.cfg.BlockBatchSize)

		for _, block := range blocks {
			err := connection.Send(ctx, appmessage.NewMsgBlock(block))
			if err != nil {
				if ctx.Err() == nil {
					log.Debugf("Failed sending %s to %s: %s", block.Reference(), connection, err)
					connection.Disconnect()
				}
				return
			}
			next = block.Round() + 1
			ns.metrics.blocksSent.Inc(1)
		}

		// A full or partial batch means more may already be there.
		if len(blocks) > 0 {
			continue
		}

		select {
		case <-notified:
		case <-ctx.Done():
			return
		}
	}
}
