package netsync

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/domain/consensus"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/infrastructure/logger"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter"
	"github.com/kaspanet/dagsync/util/locks"
)

// ConsensusState is the state the synchronizer drives. Implementations
// need not be safe for concurrent use beyond concurrent calls to the
// read-only methods. They must call NotifyWaiters on the notifier they were
// started with whenever a new own block appears.
type ConsensusState interface {
	// LastSeenByAuthority returns the highest round of a known block of authority
	LastSeenByAuthority(authority model.AuthorityIndex) model.RoundNumber

	// GetOwnBlocks returns up to limit own blocks with rounds of at least
	// fromRound, in ascending round order
	GetOwnBlocks(fromRound model.RoundNumber, limit int) []*model.Block

	// AddBlocks admits blocks received from peers. Admitting a known block
	// does nothing.
	AddBlocks(blocks []*model.Block)

	// ForceNewBlock produces an own block after round, unless an own block
	// newer than round already exists
	ForceNewBlock(round model.RoundNumber)

	// LastOwnBlock returns the most recent own block, or nil if there is none
	LastOwnBlock() *model.Block
}

// Network is the source of identified peer connections
type Network interface {
	Connections() <-chan *netadapter.NetConnection
}

// NetworkSyncer exchanges blocks with the peers of a network on behalf of a
// ConsensusState, and forces own blocks when the network is quiet for too
// long.
type NetworkSyncer struct {
	cfg     *Config
	network Network
	handle  *syncerHandle
	metrics *Metrics

	cancel   context.CancelFunc
	dispatch *task
}

type changeSignals struct {
	notifier *locks.Notifier
}

func (s changeSignals) NewBlockReady() {
	s.notifier.NotifyWaiters()
}

// Start runs a NetworkSyncer over a consensus.Syncer built on core. Own
// block production is kicked off before any peer is served.
func Start(network Network, core *consensus.Core, commitPeriod uint64,
	commitObserver consensus.CommitObserver, cfg *Config) (*NetworkSyncer, error) {

	notifier := locks.NewNotifier()
	syncer := consensus.NewSyncer(core, commitPeriod, changeSignals{notifier: notifier}, commitObserver)
	syncer.ForceNewBlock(0)
	return StartWithState(network, syncer, notifier, cfg)
}

// StartWithState runs a NetworkSyncer over state. state must wake the
// waiters of notifier whenever it gets a new own block.
func StartWithState(network Network, state ConsensusState, notifier *locks.Notifier,
	cfg *Config) (*NetworkSyncer, error) {

	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ns := &NetworkSyncer{
		cfg:     cfg,
		network: network,
		handle:  newSyncerHandle(state, notifier),
		metrics: newMetrics(),
		cancel:  cancel,
	}
	ns.dispatch = spawnTask(ctx, "NetworkSyncer.dispatchLoop", ns.handle, ns.dispatchLoop)

	log.Infof("Network syncer started with leader timeout %s and batches of %d blocks",
		cfg.LeaderTimeout, cfg.BlockBatchSize)
	return ns, nil
}

// Metrics returns the metrics of this NetworkSyncer
func (ns *NetworkSyncer) Metrics() *Metrics {
	return ns.metrics
}

// Shutdown stops every task of the NetworkSyncer, waits for all of them to
// finish and hands the consensus state back to the caller
func (ns *NetworkSyncer) Shutdown() ConsensusState {
	onEnd := logger.LogAndMeasureExecutionTime(log, "NetworkSyncer.Shutdown")
	defer onEnd()

	ns.cancel()
	ns.dispatch.join()

	if references := ns.handle.referenceCount(); references != 1 {
		panic(errors.Errorf("network syncer shut down with %d references to its state", references))
	}

	log.Infof("Network syncer stopped")
	return ns.handle.state
}

// dispatchLoop runs a connection flow for every connection the network
// delivers. A peer never has more than one flow: the flow of a previous
// connection of the same peer is joined before its successor starts.
func (ns *NetworkSyncer) dispatchLoop(ctx context.Context, handle *syncerHandle) {
	leaderTimeout := spawnTask(ctx, "NetworkSyncer.leaderTimeoutLoop", handle, ns.leaderTimeoutLoop)
	connectionFlows := make(map[model.AuthorityIndex]*task)

	defer func() {
		for _, flow := range connectionFlows {
			flow.join()
		}
		leaderTimeout.join()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case connection, ok := <-ns.network.Connections():
			if !ok {
				log.Infof("Network closed its connections, waiting for shutdown")
				<-ctx.Done()
				return
			}

			peer := connection.PeerID()
			if previous, ok := connectionFlows[peer]; ok {
				log.Debugf("Waiting for the previous flow of authority %d to finish", peer)
				previous.join()
			}

			name := fmt.Sprintf("NetworkSyncer.connectionFlow-%d", peer)
			connectionFlows[peer] = spawnTask(ctx, name, handle,
				func(ctx context.Context, handle *syncerHandle) {
					ns.connectionFlow(ctx, handle, connection)
				})
		}
	}
}
