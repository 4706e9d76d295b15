package connmanager

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/domain/consensus/model"
)

// DefaultRetryInterval is how often missing peer connections are redialed
const DefaultRetryInterval = 5 * time.Second

// Peer is a committee member the node should stay connected to
type Peer struct {
	Authority model.AuthorityIndex
	Address   string
}

// NetAdapter is what the ConnectionManager needs from the network layer
type NetAdapter interface {
	Connect(ctx context.Context, address string) error
	IsConnectedTo(authority model.AuthorityIndex) bool
}

// ConnectionManager keeps a connection open to every committee peer with a
// higher authority index than ours. Peers with lower indices dial us.
type ConnectionManager struct {
	authority     model.AuthorityIndex
	targets       []Peer
	netAdapter    NetAdapter
	retryInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stateLock sync.Mutex
	started   bool
	stopped   bool

	attemptsLock sync.Mutex
	attempts     map[model.AuthorityIndex]int

	resetLoopChan chan struct{}
}

// New instantiates a new instance of a ConnectionManager
func New(authority model.AuthorityIndex, peers []Peer, netAdapter NetAdapter,
	retryInterval time.Duration) (*ConnectionManager, error) {

	if retryInterval <= 0 {
		return nil, errors.Errorf("retry interval must be positive, got %s", retryInterval)
	}

	var targets []Peer
	for _, peer := range peers {
		if peer.Authority > authority {
			targets = append(targets, peer)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		authority:     authority,
		targets:       targets,
		netAdapter:    netAdapter,
		retryInterval: retryInterval,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		attempts:      make(map[model.AuthorityIndex]int),
		resetLoopChan: make(chan struct{}, 1),
	}, nil
}

// Start begins the operation of the ConnectionManager. It does nothing if
// the ConnectionManager was already started or stopped.
func (c *ConnectionManager) Start() {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	if c.started || c.stopped {
		return
	}
	c.started = true
	spawn("ConnectionManager.connectionsLoop", c.connectionsLoop)
}

// Stop halts the operation of the ConnectionManager and waits for its loop
// to exit, if it was ever started
func (c *ConnectionManager) Stop() error {
	c.stateLock.Lock()
	if c.stopped {
		c.stateLock.Unlock()
		return errors.New("connection manager stopped more than once")
	}
	c.stopped = true
	started := c.started
	c.stateLock.Unlock()

	c.cancel()
	if started {
		<-c.done
	}
	return nil
}

// Targets returns the peers this node dials
func (c *ConnectionManager) Targets() []Peer {
	return c.targets
}

// Run makes the ConnectionManager check its connections right away
func (c *ConnectionManager) Run() {
	select {
	case c.resetLoopChan <- struct{}{}:
	default:
	}
}

// Attempts returns how many times authority was dialed
func (c *ConnectionManager) Attempts(authority model.AuthorityIndex) int {
	c.attemptsLock.Lock()
	defer c.attemptsLock.Unlock()

	return c.attempts[authority]
}

func (c *ConnectionManager) connectionsLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()

	for {
		c.checkOutgoingConnections()

		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		case <-c.resetLoopChan:
		}
	}
}
