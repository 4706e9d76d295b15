package memoryserver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/app/protocol/protocolerrors"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/router"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server/grpcserver/protowire"
)

// inboxCapacity is how many encoded frames may be in flight in each
// direction of a connection
const inboxCapacity = 16

// link is the state both ends of a connection share
type link struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *link) close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

type memoryConnection struct {
	network      *Network
	localAddress string
	address      string
	isOutbound   bool

	link  *link
	inbox chan []byte
	peer  *memoryConnection

	router *router.Router
	ctx    context.Context
	cancel context.CancelFunc

	onDisconnectedHandler   server.OnDisconnectedHandler
	onInvalidMessageHandler server.OnInvalidMessageHandler

	isConnected uint32
}

func newConnectionPair(network *Network, fromAddress, toAddress string) (outbound, inbound *memoryConnection) {
	sharedLink := &link{closed: make(chan struct{})}
	outbound = newConnection(network, fromAddress, toAddress, true, sharedLink)
	inbound = newConnection(network, toAddress, fromAddress, false, sharedLink)
	outbound.peer = inbound
	inbound.peer = outbound
	return outbound, inbound
}

func newConnection(network *Network, localAddress, address string, isOutbound bool, sharedLink *link) *memoryConnection {
	ctx, cancel := context.WithCancel(context.Background())
	return &memoryConnection{
		network:      network,
		localAddress: localAddress,
		address:      address,
		isOutbound:   isOutbound,
		link:         sharedLink,
		inbox:        make(chan []byte, inboxCapacity),
		ctx:          ctx,
		cancel:       cancel,
		isConnected:  1,
	}
}

func (c *memoryConnection) Start(router *router.Router) {
	if c.onDisconnectedHandler == nil {
		panic(errors.New("onDisconnectedHandler is nil"))
	}
	c.router = router

	spawn("memoryConnection.Start-sendLoop", func() {
		defer c.Disconnect()
		err := c.sendLoop()
		if err != nil {
			log.Debugf("Send loop of %s exited: %s", c, err)
		}
	})
	spawn("memoryConnection.Start-receiveLoop", func() {
		defer c.Disconnect()
		err := c.receiveLoop()
		if err != nil {
			log.Debugf("Receive loop of %s exited: %s", c, err)
		}
	})
}

func (c *memoryConnection) sendLoop() error {
	outgoingRoute := c.router.OutgoingRoute()
	for {
		message, err := outgoingRoute.Dequeue(c.ctx)
		if err != nil {
			if errors.Is(err, router.ErrRouteClosed) || c.ctx.Err() != nil {
				return nil
			}
			return err
		}
		frame, err := protowire.FromAppMessage(message)
		if err != nil {
			return err
		}

		select {
		case c.peer.inbox <- frame.Marshal():
		case <-c.link.closed:
			return nil
		}
	}
}

func (c *memoryConnection) receiveLoop() error {
	for {
		var encoded []byte
		select {
		case encoded = <-c.inbox:
		case <-c.link.closed:
			return nil
		}

		frame := &protowire.P2PMessage{}
		err := frame.Unmarshal(encoded)
		if err != nil {
			c.invalidMessage(err)
			return err
		}
		message, err := frame.ToAppMessage()
		if err != nil {
			c.invalidMessage(err)
			return err
		}
		message.SetReceivedAt(time.Now())

		err = c.router.EnqueueIncomingMessage(c.ctx, message)
		if err != nil {
			if protocolerrors.IsProtocolError(err) {
				c.invalidMessage(err)
			}
			if c.ctx.Err() != nil || errors.Is(err, router.ErrRouteClosed) {
				return nil
			}
			return err
		}
	}
}

func (c *memoryConnection) invalidMessage(err error) {
	if c.onInvalidMessageHandler != nil {
		c.onInvalidMessageHandler(err)
		return
	}
	log.Warnf("Invalid message from %s: %s", c, err)
}

func (c *memoryConnection) String() string {
	return fmt.Sprintf("%s->%s", c.localAddress, c.address)
}

func (c *memoryConnection) IsConnected() bool {
	return atomic.LoadUint32(&c.isConnected) != 0
}

func (c *memoryConnection) IsOutbound() bool {
	return c.isOutbound
}

func (c *memoryConnection) Address() string {
	return c.address
}

func (c *memoryConnection) SetOnDisconnectedHandler(onDisconnectedHandler server.OnDisconnectedHandler) {
	c.onDisconnectedHandler = onDisconnectedHandler
}

func (c *memoryConnection) SetOnInvalidMessageHandler(onInvalidMessageHandler server.OnInvalidMessageHandler) {
	c.onInvalidMessageHandler = onInvalidMessageHandler
}

// Disconnect severs the link for both ends. The other end notices and
// disconnects itself once it is started.
// Calling this function a second time doesn't do anything
func (c *memoryConnection) Disconnect() {
	if !atomic.CompareAndSwapUint32(&c.isConnected, 1, 0) {
		return
	}

	c.cancel()
	c.link.close()
	c.network.forget(c)

	log.Debugf("Disconnected %s", c)
	if c.onDisconnectedHandler != nil {
		c.onDisconnectedHandler()
	}
}
