package netadapter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/app/protocol/protocolerrors"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/id"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
)

// DefaultHandshakeTimeout is how long a new connection may take to
// identify itself
const DefaultHandshakeTimeout = 10 * time.Second

// Config describes who we are to the peers we connect with
type Config struct {
	Authority        model.AuthorityIndex
	CommitteeSize    int
	ProtocolVersion  uint32
	HandshakeTimeout time.Duration
}

// NetAdapter is an abstraction layer over networking.
// It accepts and dials transport connections, identifies the peer behind
// each one, and hands out at most one live NetConnection per peer through
// Connections.
type NetAdapter struct {
	cfg       *Config
	id        *id.ID
	p2pServer server.P2PServer

	connections chan *NetConnection

	lock           sync.RWMutex
	allConnections map[*NetConnection]struct{}
	peers          map[model.AuthorityIndex]*NetConnection
	stopped        bool
	stopChan       chan struct{}
	deliveries     sync.WaitGroup

	stop uint32
}

// NewNetAdapter creates a new NetAdapter over the given p2p server
func NewNetAdapter(cfg *Config, p2pServer server.P2PServer) (*NetAdapter, error) {
	netAdapterID, err := id.GenerateID()
	if err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	adapter := &NetAdapter{
		cfg:            cfg,
		id:             netAdapterID,
		p2pServer:      p2pServer,
		connections:    make(chan *NetConnection, cfg.CommitteeSize),
		allConnections: make(map[*NetConnection]struct{}),
		peers:          make(map[model.AuthorityIndex]*NetConnection),
		stopChan:       make(chan struct{}),
	}
	adapter.p2pServer.SetOnConnectedHandler(adapter.onConnectedHandler)

	return adapter, nil
}

// Start begins the operation of the NetAdapter
func (na *NetAdapter) Start() error {
	return na.p2pServer.Start()
}

// Stop disconnects every connection, closes the Connections channel and
// stops the underlying server
func (na *NetAdapter) Stop() error {
	if atomic.AddUint32(&na.stop, 1) != 1 {
		return errors.New("net adapter stopped more than once")
	}

	na.lock.Lock()
	na.stopped = true
	close(na.stopChan)
	na.lock.Unlock()

	na.deliveries.Wait()
	close(na.connections)

	for _, netConnection := range na.snapshotConnections() {
		netConnection.Disconnect()
	}

	return na.p2pServer.Stop()
}

// Connect dials the peer at address. The resulting NetConnection, if the
// handshake succeeds, arrives through Connections.
func (na *NetAdapter) Connect(ctx context.Context, address string) error {
	_, err := na.p2pServer.Connect(ctx, address)
	return err
}

// Connections returns the channel through which identified connections are
// delivered. It is closed by Stop.
func (na *NetAdapter) Connections() <-chan *NetConnection {
	return na.connections
}

// ConnectionCount returns the number of peers with a live connection
func (na *NetAdapter) ConnectionCount() int {
	na.lock.RLock()
	defer na.lock.RUnlock()

	return len(na.peers)
}

// IsConnectedTo returns whether there is a live connection to authority
func (na *NetAdapter) IsConnectedTo(authority model.AuthorityIndex) bool {
	na.lock.RLock()
	defer na.lock.RUnlock()

	_, ok := na.peers[authority]
	return ok
}

// ListeningAddresses returns the addresses the underlying server accepts
// connections on
func (na *NetAdapter) ListeningAddresses() []string {
	return na.p2pServer.ListeningAddresses()
}

// ID returns this netAdapter's ID in the network
func (na *NetAdapter) ID() *id.ID {
	return na.id
}

func (na *NetAdapter) onConnectedHandler(connection server.Connection) error {
	netConnection, err := newNetConnection(connection)
	if err != nil {
		return err
	}
	netConnection.setOnDisconnectedHandler(func() {
		na.onDisconnected(netConnection)
	})

	na.lock.Lock()
	if na.stopped {
		na.lock.Unlock()
		return errors.Wrapf(server.ErrServerStopped, "refusing connection %s", connection)
	}
	na.allConnections[netConnection] = struct{}{}
	na.lock.Unlock()

	netConnection.start()

	spawn("NetAdapter.onConnectedHandler-handshake", func() {
		na.handshakeAndDeliver(netConnection)
	})
	return nil
}

func (na *NetAdapter) handshakeAndDeliver(netConnection *NetConnection) {
	peerID, err := na.handshake(netConnection)
	if err != nil {
		if protocolerrors.IsProtocolError(err) {
			log.Warnf("Handshake with %s failed: %s", netConnection, err)
		} else {
			log.Debugf("Handshake with %s aborted: %s", netConnection, err)
		}
		netConnection.Disconnect()
		return
	}

	na.lock.Lock()
	if na.stopped || !netConnection.IsConnected() {
		na.lock.Unlock()
		netConnection.Disconnect()
		return
	}
	netConnection.peerID = peerID
	previous := na.peers[peerID]
	na.peers[peerID] = netConnection
	na.deliveries.Add(1)
	na.lock.Unlock()
	defer na.deliveries.Done()

	// The previous connection must be gone before its successor is handed
	// out, so that whoever consumes Connections sees them strictly in turn.
	if previous != nil {
		log.Infof("Replacing connection %s to authority %d with %s", previous, peerID, netConnection)
		previous.Disconnect()
	}

	log.Infof("Connected to authority %d through %s", peerID, netConnection)

	select {
	case na.connections <- netConnection:
	case <-na.stopChan:
		netConnection.Disconnect()
	}
}

func (na *NetAdapter) onDisconnected(netConnection *NetConnection) {
	na.lock.Lock()
	defer na.lock.Unlock()

	delete(na.allConnections, netConnection)
	if current, ok := na.peers[netConnection.peerID]; ok && current == netConnection {
		delete(na.peers, netConnection.peerID)
	}
}

func (na *NetAdapter) snapshotConnections() []*NetConnection {
	na.lock.RLock()
	defer na.lock.RUnlock()

	netConnections := make([]*NetConnection, 0, len(na.allConnections))
	for netConnection := range na.allConnections {
		netConnections = append(netConnections, netConnection)
	}
	return netConnections
}
