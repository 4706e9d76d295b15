package grpcserver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/domain/consensus/utils/serialization"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/router"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
)

type acceptedConnection struct {
	connection server.Connection
	route      *router.Route
	router     *router.Router
}

func startLocalServer(t *testing.T) (server.P2PServer, chan *acceptedConnection, *int32) {
	p2pServer := NewP2PServer([]string{"127.0.0.1:0"}, "")
	accepted := make(chan *acceptedConnection, 1)
	var disconnected int32

	p2pServer.SetOnConnectedHandler(func(connection server.Connection) error {
		connectionRouter := router.NewRouter(connection.String())
		route, err := connectionRouter.AddIncomingRoute("test",
			[]appmessage.MessageCommand{appmessage.CmdSubscribeOwnFrom, appmessage.CmdBlock})
		if err != nil {
			return err
		}
		connection.SetOnDisconnectedHandler(func() {
			atomic.AddInt32(&disconnected, 1)
			connectionRouter.Close()
		})
		connection.Start(connectionRouter)
		if !connection.IsOutbound() {
			accepted <- &acceptedConnection{connection: connection, route: route, router: connectionRouter}
		}
		return nil
	})

	require.NoError(t, p2pServer.Start())
	require.Len(t, p2pServer.ListeningAddresses(), 1)
	return p2pServer, accepted, &disconnected
}

func TestMessagesTravelBothWays(t *testing.T) {
	p2pServer, accepted, disconnected := startLocalServer(t)
	defer func() { require.NoError(t, p2pServer.Stop()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := p2pServer.Connect(ctx, p2pServer.ListeningAddresses()[0])
	require.NoError(t, err)
	require.True(t, client.IsOutbound())

	var inbound *acceptedConnection
	select {
	case inbound = <-accepted:
	case <-ctx.Done():
		t.Fatalf("inbound connection never arrived")
	}
	require.False(t, inbound.connection.IsOutbound())

	block := serialization.NewBlock(1, 3, []model.BlockReference{{Authority: 0, Round: 2}}, [][]byte{[]byte("tx")})

	// The client was started with its own router by the same handler.
	clientConnection := client.(*gRPCConnection)
	require.NoError(t, clientConnection.router.OutgoingRoute().Enqueue(ctx, appmessage.NewMsgSubscribeOwnFrom(7)))
	require.NoError(t, clientConnection.router.OutgoingRoute().Enqueue(ctx, appmessage.NewMsgBlock(block)))

	message, err := inbound.route.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, model.RoundNumber(7), message.(*appmessage.MsgSubscribeOwnFrom).Round)
	require.False(t, message.ReceivedAt().IsZero())

	message, err = inbound.route.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, block.Reference(), message.(*appmessage.MsgBlock).Block.Reference())

	client.Disconnect()
	require.False(t, client.IsConnected())
	require.Eventually(t, func() bool { return atomic.LoadInt32(disconnected) == 2 },
		5*time.Second, 10*time.Millisecond)
	require.False(t, inbound.connection.IsConnected())
}

func TestConnectToNothingFails(t *testing.T) {
	p2pServer := NewP2PServer(nil, "")
	p2pServer.SetOnConnectedHandler(func(connection server.Connection) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := p2pServer.Connect(ctx, "127.0.0.1:1")
	require.Error(t, err)
	require.ErrorIs(t, err, server.ErrNetwork)
}

func TestStartWithoutHandlerFails(t *testing.T) {
	p2pServer := NewP2PServer([]string{"127.0.0.1:0"}, "")
	require.Error(t, p2pServer.Start())
}
