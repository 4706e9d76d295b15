package memoryserver

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
)

// Network is an in-process switchboard connecting memory servers by
// address. Addresses can be partitioned away from the rest of the network
// and healed later, which severs and then allows connections again.
type Network struct {
	lock        sync.Mutex
	servers     map[string]*memoryServer
	partitioned map[string]struct{}
	connections map[*memoryConnection]struct{}
}

// NewNetwork creates an empty Network
func NewNetwork() *Network {
	return &Network{
		servers:     make(map[string]*memoryServer),
		partitioned: make(map[string]struct{}),
		connections: make(map[*memoryConnection]struct{}),
	}
}

// NewServer creates a server reachable at address once started
func (n *Network) NewServer(address string) server.P2PServer {
	return &memoryServer{network: n, address: address}
}

// Partition disconnects every connection of address and refuses new ones
// until Heal is called
func (n *Network) Partition(address string) {
	n.lock.Lock()
	n.partitioned[address] = struct{}{}
	var severed []*memoryConnection
	for connection := range n.connections {
		if connection.localAddress == address || connection.address == address {
			severed = append(severed, connection)
		}
	}
	n.lock.Unlock()

	log.Debugf("Partitioned %s, severing %d connection ends", address, len(severed))
	for _, connection := range severed {
		connection.Disconnect()
	}
}

// Heal lets address connect again after Partition
func (n *Network) Heal(address string) {
	n.lock.Lock()
	defer n.lock.Unlock()

	delete(n.partitioned, address)
	log.Debugf("Healed %s", address)
}

func (n *Network) register(s *memoryServer) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	if _, ok := n.servers[s.address]; ok {
		return errors.Errorf("address %s is already in use", s.address)
	}
	n.servers[s.address] = s
	return nil
}

func (n *Network) unregister(s *memoryServer) []*memoryConnection {
	n.lock.Lock()
	defer n.lock.Unlock()

	delete(n.servers, s.address)
	var owned []*memoryConnection
	for connection := range n.connections {
		if connection.localAddress == s.address {
			owned = append(owned, connection)
		}
	}
	return owned
}

// dial creates both ends of a connection from one server to another
func (n *Network) dial(from *memoryServer, address string) (outbound, inbound *memoryConnection, target *memoryServer, err error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if _, ok := n.servers[from.address]; !ok {
		return nil, nil, nil, errors.Wrapf(server.ErrServerStopped, "cannot dial from %s", from.address)
	}
	if n.isPartitioned(from.address) || n.isPartitioned(address) {
		return nil, nil, nil, errors.Wrapf(server.ErrNetwork, "%s is unreachable from %s", address, from.address)
	}
	target, ok := n.servers[address]
	if !ok {
		return nil, nil, nil, errors.Wrapf(server.ErrNetwork, "nothing listens on %s", address)
	}

	outbound, inbound = newConnectionPair(n, from.address, address)
	n.connections[outbound] = struct{}{}
	n.connections[inbound] = struct{}{}
	return outbound, inbound, target, nil
}

func (n *Network) forget(connection *memoryConnection) {
	n.lock.Lock()
	defer n.lock.Unlock()

	delete(n.connections, connection)
}

func (n *Network) isPartitioned(address string) bool {
	_, ok := n.partitioned[address]
	return ok
}
