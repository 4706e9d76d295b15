package netsync

import (
	"context"
	"fmt"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter"
)

// connectionFlow serves one peer connection until it closes or the
// synchronizer stops. It subscribes to the peer's blocks, admits every
// block the peer sends, and streams own blocks to the peer through at most
// one send task at a time.
func (ns *NetworkSyncer) connectionFlow(ctx context.Context, handle *syncerHandle,
	connection *netadapter.NetConnection) {

	ns.metrics.connectionsActive.Inc(1)
	defer ns.metrics.connectionsActive.Dec(1)

	peer := connection.PeerID()

	var sendTask *task
	defer func() {
		if sendTask != nil {
			sendTask.cancelAndJoin()
		}
	}()

	from := handle.lastSeenByAuthority(peer) + 1
	err := connection.Send(ctx, appmessage.NewMsgSubscribeOwnFrom(from))
	if err != nil {
		log.Debugf("Could not subscribe to authority %d through %s: %s", peer, connection, err)
		return
	}
	log.Debugf("Subscribed to blocks of authority %d from round %d", peer, from)

	for {
		message, err := connection.Receive(ctx)
		if err != nil {
			log.Debugf("Connection %s to authority %d ended: %s", connection, peer, err)
			return
		}

		switch message := message.(type) {
		case *appmessage.MsgSubscribeOwnFrom:
			if sendTask != nil {
				sendTask.cancelAndJoin()
			}
			ns.metrics.subscriptions.Inc(1)
			log.Debugf("Authority %d subscribed to own blocks from round %d", peer, message.Round)

			round := message.Round
			name := fmt.Sprintf("NetworkSyncer.sendBlocks-%d", peer)
			sendTask = spawnTask(ctx, name, handle, func(ctx context.Context, handle *syncerHandle) {
				ns.sendBlocks(ctx, handle, connection, round)
			})

		case *appmessage.MsgBlock:
			ns.metrics.blocksReceived.Inc(1)
			handle.addBlocks([]*model.Block{message.Block})

		default:
			log.Warnf("Authority %d sent unexpected message %s, disconnecting", peer, message.Command())
			connection.Disconnect()
			return
		}
	}
}
