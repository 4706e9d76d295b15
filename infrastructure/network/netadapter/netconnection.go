package netadapter

import (
	"context"
	"fmt"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/id"
	routerpkg "github.com/kaspanet/dagsync/infrastructure/network/netadapter/router"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
)

// NetConnection is a connection to a committee peer whose handshake
// completed. Sync traffic goes through Send and Receive.
type NetConnection struct {
	connection server.Connection
	id         *id.ID
	router     *routerpkg.Router

	handshakeRoute *routerpkg.Route
	syncRoute      *routerpkg.Route

	// peerID is set once, under the adapter lock, when the handshake
	// completes
	peerID model.AuthorityIndex

	onDisconnectedHandler server.OnDisconnectedHandler
}

func newNetConnection(connection server.Connection) (*NetConnection, error) {
	netConnectionID, err := id.GenerateID()
	if err != nil {
		return nil, err
	}

	router := routerpkg.NewRouter(connection.String())
	handshakeRoute, err := router.AddIncomingRoute("handshake",
		[]appmessage.MessageCommand{appmessage.CmdVersion})
	if err != nil {
		return nil, err
	}
	syncRoute, err := router.AddIncomingRoute("sync",
		[]appmessage.MessageCommand{appmessage.CmdSubscribeOwnFrom, appmessage.CmdBlock})
	if err != nil {
		return nil, err
	}

	return &NetConnection{
		connection:     connection,
		id:             netConnectionID,
		router:         router,
		handshakeRoute: handshakeRoute,
		syncRoute:      syncRoute,
	}, nil
}

func (c *NetConnection) start() {
	if c.onDisconnectedHandler == nil {
		panic("onDisconnectedHandler must be set before starting a connection")
	}

	c.connection.SetOnDisconnectedHandler(func() {
		c.router.Close()
		c.onDisconnectedHandler()
	})
	c.connection.SetOnInvalidMessageHandler(func(err error) {
		log.Warnf("Peer %s sent an invalid message: %s", c, err)
	})

	c.connection.Start(c.router)
}

func (c *NetConnection) String() string {
	return fmt.Sprintf("<%s: %s>", c.id, c.connection)
}

// ID returns the unique id of this connection
func (c *NetConnection) ID() *id.ID {
	return c.id
}

// PeerID returns the authority index the peer identified itself with
func (c *NetConnection) PeerID() model.AuthorityIndex {
	return c.peerID
}

// Address returns the remote address of the connection
func (c *NetConnection) Address() string {
	return c.connection.Address()
}

// IsOutbound returns whether we dialed this connection
func (c *NetConnection) IsOutbound() bool {
	return c.connection.IsOutbound()
}

// IsConnected returns whether the connection is still alive
func (c *NetConnection) IsConnected() bool {
	return c.connection.IsConnected()
}

// Send queues message for the peer. It blocks while the outgoing queue is
// full, and fails once the connection is closed or ctx is done.
func (c *NetConnection) Send(ctx context.Context, message appmessage.Message) error {
	return c.router.OutgoingRoute().Enqueue(ctx, message)
}

// Receive returns the next sync message from the peer. It fails once the
// connection is closed or ctx is done.
func (c *NetConnection) Receive(ctx context.Context) (appmessage.Message, error) {
	return c.syncRoute.Dequeue(ctx)
}

// Disconnect disconnects the connection
func (c *NetConnection) Disconnect() {
	c.connection.Disconnect()
}

func (c *NetConnection) setOnDisconnectedHandler(onDisconnectedHandler server.OnDisconnectedHandler) {
	c.onDisconnectedHandler = onDisconnectedHandler
}
