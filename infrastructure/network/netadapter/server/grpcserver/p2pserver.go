package grpcserver

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"

	"github.com/kaspanet/dagsync/util/panics"
)

type p2pServer struct {
	server *gRPCServer
}

func newP2PServer(s *gRPCServer) *p2pServer {
	return &p2pServer{server: s}
}

// MessageStream handles an inbound connection for as long as it lives
func (p *p2pServer) MessageStream(stream grpc.ServerStream) error {
	defer panics.HandlePanic(log, "p2pServer.MessageStream", nil)

	peerInfo, ok := peer.FromContext(stream.Context())
	if !ok {
		return errors.Errorf("Error getting stream peer info from context")
	}

	connection := newConnection(peerInfo.Addr.String(), stream, nil, nil)

	err := p.server.onConnectedHandler(connection)
	if err != nil {
		return err
	}

	log.Infof("Incoming connection from %s", peerInfo.Addr)

	<-connection.stopChan
	connection.awaitSendLoop()

	return nil
}
