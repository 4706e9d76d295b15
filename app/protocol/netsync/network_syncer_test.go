package netsync

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/domain/consensus"
	"github.com/kaspanet/dagsync/domain/consensus/blockstore"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/domain/consensus/utils/serialization"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server/memoryserver"
	"github.com/kaspanet/dagsync/util/locks"
)

const (
	syncerAuthority = model.AuthorityIndex(0)
	peerAuthority   = model.AuthorityIndex(1)
	committeeSize   = 4
	waitTimeout     = 5 * time.Second
)

func newTestAdapter(t *testing.T, network *memoryserver.Network, authority model.AuthorityIndex,
	address string) *netadapter.NetAdapter {

	adapter, err := netadapter.NewNetAdapter(&netadapter.Config{
		Authority:        authority,
		CommitteeSize:    committeeSize,
		ProtocolVersion:  1,
		HandshakeTimeout: time.Second,
	}, network.NewServer(address))
	require.NoError(t, err)
	require.NoError(t, adapter.Start())
	return adapter
}

// harness runs a NetworkSyncer for authority 0 and drives authority 1 by hand
type harness struct {
	t       *testing.T
	ctx     context.Context
	cancel  context.CancelFunc
	network *memoryserver.Network

	syncerAdapter *netadapter.NetAdapter
	peerAdapter   *netadapter.NetAdapter
	syncer        *NetworkSyncer
	peer          *netadapter.NetConnection
}

func newHarness(t *testing.T, state ConsensusState, notifier *locks.Notifier, cfg *Config) *harness {
	ctx, cancel := context.WithTimeout(context.Background(), 4*waitTimeout)
	network := memoryserver.NewNetwork()
	h := &harness{
		t:             t,
		ctx:           ctx,
		cancel:        cancel,
		network:       network,
		syncerAdapter: newTestAdapter(t, network, syncerAuthority, "syncer"),
		peerAdapter:   newTestAdapter(t, network, peerAuthority, "peer"),
	}

	syncer, err := StartWithState(h.syncerAdapter, state, notifier, cfg)
	require.NoError(t, err)
	h.syncer = syncer

	h.connectPeer()
	return h
}

func (h *harness) connectPeer() {
	require.NoError(h.t, h.peerAdapter.Connect(h.ctx, "syncer"))
	select {
	case h.peer = <-h.peerAdapter.Connections():
	case <-time.After(waitTimeout):
		h.t.Fatalf("the peer never got its connection")
	}
	require.Equal(h.t, syncerAuthority, h.peer.PeerID())
}

func (h *harness) receive() appmessage.Message {
	ctx, cancel := context.WithTimeout(h.ctx, waitTimeout)
	defer cancel()

	message, err := h.peer.Receive(ctx)
	require.NoError(h.t, err)
	return message
}

func (h *harness) expectSubscription(round model.RoundNumber) {
	message := h.receive()
	subscription, ok := message.(*appmessage.MsgSubscribeOwnFrom)
	require.Truef(h.t, ok, "expected a subscription but got %s", message.Command())
	require.Equal(h.t, round, subscription.Round)
}

func (h *harness) expectBlocks(rounds ...model.RoundNumber) {
	for _, round := range rounds {
		message := h.receive()
		block, ok := message.(*appmessage.MsgBlock)
		require.Truef(h.t, ok, "expected a block but got %s", message.Command())
		require.Equal(h.t, syncerAuthority, block.Block.Author())
		require.Equal(h.t, round, block.Block.Round())
	}
}

func (h *harness) subscribe(round model.RoundNumber) {
	require.NoError(h.t, h.peer.Send(h.ctx, appmessage.NewMsgSubscribeOwnFrom(round)))
}

func (h *harness) sendBlock(block *model.Block) {
	require.NoError(h.t, h.peer.Send(h.ctx, appmessage.NewMsgBlock(block)))
}

func (h *harness) shutdown() ConsensusState {
	state := h.syncer.Shutdown()
	require.NoError(h.t, h.peerAdapter.Stop())
	require.NoError(h.t, h.syncerAdapter.Stop())
	h.cancel()
	return state
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.LeaderTimeout = time.Hour
	return cfg
}

func roundRange(from, to model.RoundNumber) []model.RoundNumber {
	rounds := make([]model.RoundNumber, 0, to-from+1)
	for round := from; round <= to; round++ {
		rounds = append(rounds, round)
	}
	return rounds
}

func TestSubscriptionStreamsOwnBlocksInBatches(t *testing.T) {
	defer leaktest.Check(t)()

	state := newFakeState(syncerAuthority, roundRange(10, 25)...)
	h := newHarness(t, state, state.notifier, testConfig())

	h.expectSubscription(1)
	h.subscribe(10)
	h.expectBlocks(roundRange(10, 25)...)

	expected := []ownBlocksCall{{from: 10, limit: 10}, {from: 20, limit: 10}, {from: 26, limit: 10}}
	require.Eventually(t, func() bool { return len(state.calls()) >= len(expected) }, waitTimeout, time.Millisecond)
	require.Equal(t, expected, state.calls())

	// Nothing new: the send task waits instead of polling.
	require.Never(t, func() bool { return len(state.calls()) > len(expected) }, 200*time.Millisecond, 10*time.Millisecond)

	state.produce(26)
	h.expectBlocks(26)
	require.Eventually(t, func() bool { return len(state.calls()) >= 5 }, waitTimeout, time.Millisecond)
	require.Equal(t, ownBlocksCall{from: 26, limit: 10}, state.calls()[3])
	require.Equal(t, ownBlocksCall{from: 27, limit: 10}, state.calls()[4])

	require.Eventually(t, func() bool { return h.syncer.Metrics().BlocksSent() == 17 }, waitTimeout, time.Millisecond)
	require.Equal(t, int64(1), h.syncer.Metrics().Subscriptions())
	h.shutdown()
}

func TestResubscriptionReplacesTheSendTask(t *testing.T) {
	defer leaktest.Check(t)()

	state := newFakeState(syncerAuthority, roundRange(1, 5)...)
	h := newHarness(t, state, state.notifier, testConfig())
	h.expectSubscription(1)

	const subscriptions = 30
	for i := 0; i < subscriptions; i++ {
		h.subscribe(model.RoundNumber(i%5 + 1))
	}

	metrics := h.syncer.Metrics()
	require.Eventually(t, func() bool { return metrics.Subscriptions() == subscriptions }, waitTimeout, time.Millisecond)
	require.Eventually(t, func() bool { return metrics.SendTasksActive() == 1 }, waitTimeout, time.Millisecond)
	require.Equal(t, int64(1), metrics.SendTasksPeak())

	h.shutdown()
	require.Equal(t, int64(0), metrics.SendTasksActive())
	require.Equal(t, int64(0), metrics.ConnectionsActive())
}

func TestPeerDisconnectingMidStreamEndsTheConnection(t *testing.T) {
	defer leaktest.Check(t)()

	// Far more blocks than the routes between the two nodes can hold, so
	// the send task is blocked on a send when the peer goes away.
	const backlog = 1000
	state := newFakeState(syncerAuthority, roundRange(1, backlog)...)
	h := newHarness(t, state, state.notifier, testConfig())
	h.expectSubscription(1)
	h.subscribe(1)

	metrics := h.syncer.Metrics()
	require.Eventually(t, func() bool { return metrics.SendTasksActive() == 1 && metrics.BlocksSent() > 0 },
		waitTimeout, time.Millisecond)

	h.peer.Disconnect()
	require.Eventually(t, func() bool { return metrics.ConnectionsActive() == 0 && metrics.SendTasksActive() == 0 },
		waitTimeout, time.Millisecond)
	require.Less(t, metrics.BlocksSent(), int64(backlog))

	h.shutdown()
}

func TestReceivedBlocksAreAdmittedAndDuplicatesIgnored(t *testing.T) {
	defer leaktest.Check(t)()

	state := newFakeState(syncerAuthority, 1)
	h := newHarness(t, state, state.notifier, testConfig())
	h.expectSubscription(1)

	blocks := []*model.Block{
		serialization.NewBlock(peerAuthority, 1, nil, nil),
		serialization.NewBlock(peerAuthority, 2, nil, nil),
		serialization.NewBlock(peerAuthority, 3, nil, nil),
	}
	for i := 0; i < 2; i++ {
		for _, block := range blocks {
			h.sendBlock(block)
		}
	}

	require.Eventually(t, func() bool {
		_, total := state.admittedCount()
		return total == 2*len(blocks)
	}, waitTimeout, time.Millisecond)
	distinct, _ := state.admittedCount()
	require.Equal(t, len(blocks), distinct)
	require.Equal(t, int64(2*len(blocks)), h.syncer.Metrics().BlocksReceived())

	// A new connection from the same peer resumes after what was admitted.
	h.connectPeer()
	h.expectSubscription(4)

	h.shutdown()
}

func TestLeaderTimeoutForcesBlock(t *testing.T) {
	defer leaktest.Check(t)()

	committee, err := model.NewEqualStakeCommittee(committeeSize)
	require.NoError(t, err)
	store, err := blockstore.NewInMemory()
	require.NoError(t, err)
	defer store.Close()

	core, err := consensus.NewCore(syncerAuthority, committee, store, consensus.NewTestBlockHandler())
	require.NoError(t, err)
	for round := model.RoundNumber(0); round < 5; round++ {
		_, err := core.ForceNewBlock(round)
		require.NoError(t, err)
	}
	require.Equal(t, model.RoundNumber(5), core.LastOwnBlock().Round())
	roundFive := core.LastOwnBlock().Reference()

	notifier := locks.NewNotifier()
	state := consensus.NewSyncer(core, 0, changeSignals{notifier: notifier}, consensus.NewTestCommitObserver())

	cfg := DefaultConfig()
	cfg.LeaderTimeout = time.Second
	network := &idleNetwork{connections: make(chan *netadapter.NetConnection)}

	started := time.Now()
	ns, err := StartWithState(network, state, notifier, cfg)
	require.NoError(t, err)

	time.Sleep(cfg.LeaderTimeout / 2)
	require.Equal(t, model.RoundNumber(5), ns.handle.lastOwnRound())

	require.Eventually(t, func() bool { return ns.handle.lastOwnRound() >= 6 }, 3*cfg.LeaderTimeout, time.Millisecond)
	require.GreaterOrEqual(t, int64(time.Since(started)), int64(cfg.LeaderTimeout))
	require.GreaterOrEqual(t, ns.Metrics().LeaderTimeouts(), int64(1))

	require.Same(t, state, ns.Shutdown())

	// Nobody else produced anything, so the forced block extends round 5 alone.
	require.Equal(t, []model.BlockReference{roundFive}, blockAtRound(t, store, 6).Includes())
}

func TestLeaderTimeoutIsResetByOwnBlocks(t *testing.T) {
	defer leaktest.Check(t)()

	state := newFakeState(syncerAuthority, 1)
	cfg := DefaultConfig()
	cfg.LeaderTimeout = 300 * time.Millisecond
	network := &idleNetwork{connections: make(chan *netadapter.NetConnection)}

	ns, err := StartWithState(network, state, state.notifier, cfg)
	require.NoError(t, err)

	for round := model.RoundNumber(2); round <= 7; round++ {
		time.Sleep(cfg.LeaderTimeout / 3)
		state.produce(round)
	}
	require.Empty(t, state.forcedRounds())

	require.Eventually(t, func() bool { return len(state.forcedRounds()) > 0 }, 3*cfg.LeaderTimeout, time.Millisecond)
	require.Equal(t, model.RoundNumber(7), state.forcedRounds()[0])

	ns.Shutdown()
}

func TestShutdownWithoutConnections(t *testing.T) {
	defer leaktest.Check(t)()

	state := newFakeState(syncerAuthority)
	network := &idleNetwork{connections: make(chan *netadapter.NetConnection)}
	ns, err := StartWithState(network, state, state.notifier, testConfig())
	require.NoError(t, err)

	close(network.connections)
	require.Same(t, state, ns.Shutdown())
	require.Equal(t, int32(1), ns.handle.referenceCount())
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	state := newFakeState(syncerAuthority)
	network := &idleNetwork{connections: make(chan *netadapter.NetConnection)}

	_, err := StartWithState(network, state, state.notifier, &Config{LeaderTimeout: time.Second})
	require.Error(t, err)
	_, err = StartWithState(network, state, state.notifier, &Config{BlockBatchSize: 10})
	require.Error(t, err)
}

type idleNetwork struct {
	connections chan *netadapter.NetConnection
}

func (n *idleNetwork) Connections() <-chan *netadapter.NetConnection {
	return n.connections
}

func blockAtRound(t *testing.T, store *blockstore.BlockStore, round model.RoundNumber) *model.Block {
	blocks, err := store.BlocksOf(syncerAuthority, round, 1)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, round, blocks[0].Round())
	return blocks[0]
}
