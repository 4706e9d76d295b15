package netadapter

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server/grpcserver"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server/memoryserver"
)

const testTimeout = 5 * time.Second

func newTestAdapter(t *testing.T, authority model.AuthorityIndex, committeeSize int, p2pServer server.P2PServer) *NetAdapter {
	cfg := &Config{
		Authority:        authority,
		CommitteeSize:    committeeSize,
		ProtocolVersion:  1,
		HandshakeTimeout: time.Second,
	}
	adapter, err := NewNetAdapter(cfg, p2pServer)
	if err != nil {
		t.Fatalf("NewNetAdapter: %+v", err)
	}
	err = adapter.Start()
	if err != nil {
		t.Fatalf("Start: %+v", err)
	}
	return adapter
}

func nextConnection(t *testing.T, adapter *NetAdapter) *NetConnection {
	select {
	case netConnection, ok := <-adapter.Connections():
		if !ok {
			t.Fatalf("nextConnection: connections channel closed")
		}
		return netConnection
	case <-time.After(testTimeout):
		t.Fatalf("nextConnection: no connection within %s", testTimeout)
	}
	return nil
}

func stopAdapter(t *testing.T, adapter *NetAdapter) {
	err := adapter.Stop()
	if err != nil {
		t.Fatalf("Stop: %+v", err)
	}
}

func exchangeMessages(t *testing.T, a, b *NetAdapter, bAddress string) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	err := a.Connect(ctx, bAddress)
	if err != nil {
		t.Fatalf("Connect: %+v", err)
	}

	fromA := nextConnection(t, b)
	fromB := nextConnection(t, a)
	if fromA.PeerID() != 0 || fromB.PeerID() != 1 {
		t.Fatalf("unexpected peer ids: %d and %d", fromA.PeerID(), fromB.PeerID())
	}
	if !fromB.IsOutbound() || fromA.IsOutbound() {
		t.Fatalf("unexpected connection directions")
	}
	if !a.IsConnectedTo(1) || !b.IsConnectedTo(0) {
		t.Fatalf("adapters don't report the connection")
	}

	err = fromB.Send(ctx, appmessage.NewMsgSubscribeOwnFrom(12))
	if err != nil {
		t.Fatalf("Send: %+v", err)
	}
	message, err := fromA.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %+v", err)
	}
	subscribe, ok := message.(*appmessage.MsgSubscribeOwnFrom)
	if !ok || subscribe.Round != 12 {
		t.Fatalf("unexpected message %s", message.Command())
	}
}

func TestNetAdapterOverMemory(t *testing.T) {
	defer leaktest.Check(t)()

	network := memoryserver.NewNetwork()
	a := newTestAdapter(t, 0, 4, network.NewServer("a"))
	b := newTestAdapter(t, 1, 4, network.NewServer("b"))

	exchangeMessages(t, a, b, "b")

	stopAdapter(t, a)
	stopAdapter(t, b)
	if _, ok := <-b.Connections(); ok {
		t.Fatalf("connections channel is still open after Stop")
	}
}

func TestNetAdapterOverGRPC(t *testing.T) {
	a := newTestAdapter(t, 0, 4, grpcserver.NewP2PServer([]string{"127.0.0.1:0"}, ""))
	b := newTestAdapter(t, 1, 4, grpcserver.NewP2PServer([]string{"127.0.0.1:0"}, ""))
	defer stopAdapter(t, a)
	defer stopAdapter(t, b)

	exchangeMessages(t, a, b, b.ListeningAddresses()[0])
}

func TestNewerConnectionReplacesOlder(t *testing.T) {
	defer leaktest.Check(t)()

	network := memoryserver.NewNetwork()
	a := newTestAdapter(t, 0, 4, network.NewServer("a"))
	b := newTestAdapter(t, 1, 4, network.NewServer("b"))
	defer stopAdapter(t, a)
	defer stopAdapter(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if err := a.Connect(ctx, "b"); err != nil {
		t.Fatalf("Connect: %+v", err)
	}
	first := nextConnection(t, b)
	nextConnection(t, a)

	if err := a.Connect(ctx, "b"); err != nil {
		t.Fatalf("Connect: %+v", err)
	}
	second := nextConnection(t, b)
	nextConnection(t, a)

	if first.IsConnected() {
		t.Fatalf("the older connection is still alive after its successor was delivered")
	}
	if _, err := first.Receive(ctx); err == nil {
		t.Fatalf("Receive on a replaced connection succeeded")
	}
	if !second.IsConnected() {
		t.Fatalf("the newer connection is not alive")
	}
	if b.ConnectionCount() != 1 {
		t.Fatalf("expected one connection but got %d", b.ConnectionCount())
	}
}

func TestHandshakeRejections(t *testing.T) {
	tests := []struct {
		name          string
		authority     model.AuthorityIndex
		committeeSize int
	}{
		{name: "self", authority: 0, committeeSize: 4},
		{name: "committee mismatch", authority: 1, committeeSize: 5},
		{name: "unknown authority", authority: 4, committeeSize: 4},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			network := memoryserver.NewNetwork()
			a := newTestAdapter(t, 0, 4, network.NewServer("a"))
			b := newTestAdapter(t, test.authority, test.committeeSize, network.NewServer("b"))
			defer stopAdapter(t, a)
			defer stopAdapter(t, b)

			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()
			if err := a.Connect(ctx, "b"); err != nil {
				t.Fatalf("Connect: %+v", err)
			}

			select {
			case netConnection := <-a.Connections():
				t.Fatalf("%s was delivered", netConnection)
			case <-time.After(300 * time.Millisecond):
			}
			if a.ConnectionCount() != 0 {
				t.Fatalf("expected no connections but got %d", a.ConnectionCount())
			}
		})
	}
}

func TestStopTwice(t *testing.T) {
	network := memoryserver.NewNetwork()
	adapter := newTestAdapter(t, 0, 4, network.NewServer(t.Name()))
	stopAdapter(t, adapter)
	if err := adapter.Stop(); err == nil {
		t.Fatalf("second Stop succeeded")
	}
}
