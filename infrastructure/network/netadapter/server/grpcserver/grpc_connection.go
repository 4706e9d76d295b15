package grpcserver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/router"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
)

// sendLoopTimeout bounds how long an inbound stream handler waits for the
// send loop to let go of the stream
const sendLoopTimeout = 2 * time.Second

type gRPCConnection struct {
	address                  string
	stream                   grpcStream
	router                   *router.Router
	lowLevelClientConnection *grpc.ClientConn
	cancelStream             context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc

	stopChan     chan struct{}
	sendLoopDone chan struct{}

	onDisconnectedHandler   server.OnDisconnectedHandler
	onInvalidMessageHandler server.OnInvalidMessageHandler

	isConnected uint32
	isStarted   uint32
}

// grpcStream is what client and server streams have in common
type grpcStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

func newConnection(address string, stream grpcStream, lowLevelClientConnection *grpc.ClientConn,
	cancelStream context.CancelFunc) *gRPCConnection {

	ctx, cancel := context.WithCancel(context.Background())
	return &gRPCConnection{
		address:                  address,
		stream:                   stream,
		lowLevelClientConnection: lowLevelClientConnection,
		cancelStream:             cancelStream,
		ctx:                      ctx,
		cancel:                   cancel,
		stopChan:                 make(chan struct{}),
		sendLoopDone:             make(chan struct{}),
		isConnected:              1,
	}
}

func (c *gRPCConnection) Start(router *router.Router) {
	if c.onDisconnectedHandler == nil {
		panic(errors.New("onDisconnectedHandler is nil"))
	}

	c.router = router
	atomic.StoreUint32(&c.isStarted, 1)

	spawn("gRPCConnection.Start-connectionLoops", func() {
		err := c.connectionLoops()
		if err != nil {
			log.Debugf("Connection loops for %s exited: %s", c, err)
		}
	})
}

func (c *gRPCConnection) String() string {
	return c.address
}

func (c *gRPCConnection) IsConnected() bool {
	return atomic.LoadUint32(&c.isConnected) != 0
}

func (c *gRPCConnection) SetOnDisconnectedHandler(onDisconnectedHandler server.OnDisconnectedHandler) {
	c.onDisconnectedHandler = onDisconnectedHandler
}

func (c *gRPCConnection) SetOnInvalidMessageHandler(onInvalidMessageHandler server.OnInvalidMessageHandler) {
	c.onInvalidMessageHandler = onInvalidMessageHandler
}

func (c *gRPCConnection) IsOutbound() bool {
	return c.lowLevelClientConnection != nil
}

func (c *gRPCConnection) Address() string {
	return c.address
}

// Disconnect disconnects the connection
// Calling this function a second time doesn't do anything
//
// This is part of the Connection interface
func (c *gRPCConnection) Disconnect() {
	if !atomic.CompareAndSwapUint32(&c.isConnected, 1, 0) {
		return
	}

	c.cancel()
	close(c.stopChan)

	if c.IsOutbound() {
		c.cancelStream()
		// ignore error because we don't really know what's the status of the connection
		_ = c.lowLevelClientConnection.Close()
	}

	log.Infof("Disconnected from %s", c)
	if c.onDisconnectedHandler != nil {
		c.onDisconnectedHandler()
	}
}

// awaitSendLoop waits for the send loop to stop using the stream. An
// inbound stream must not be written to after its handler returns.
func (c *gRPCConnection) awaitSendLoop() {
	if atomic.LoadUint32(&c.isStarted) == 0 {
		return
	}
	select {
	case <-c.sendLoopDone:
	case <-time.After(sendLoopTimeout):
		log.Warnf("Send loop of %s did not stop within %s", c, sendLoopTimeout)
	}
}
