package grpcserver

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/go-socks/socks"
	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
)

const (
	dialTimeout = 5 * time.Second
	stopTimeout = 2 * time.Second
)

type gRPCServer struct {
	onConnectedHandler server.OnConnectedHandler
	listeningAddresses []string
	proxy              string
	server             *grpc.Server

	boundAddressesLock sync.Mutex
	boundAddresses     []string
}

// NewP2PServer creates a new P2PServer that listens on listeningAddresses.
// When proxy is not empty, outbound connections go through that SOCKS5 proxy.
func NewP2PServer(listeningAddresses []string, proxy string) server.P2PServer {
	s := &gRPCServer{
		listeningAddresses: listeningAddresses,
		proxy:              proxy,
		server: grpc.NewServer(
			grpc.MaxRecvMsgSize(appmessage.MaxMessagePayload),
			grpc.MaxSendMsgSize(appmessage.MaxMessagePayload)),
	}
	s.server.RegisterService(&p2pServiceDesc, newP2PServer(s))
	log.Debugf("Created new gRPC P2P server with maxMessageSize %d", appmessage.MaxMessagePayload)
	return s
}

func (s *gRPCServer) Start() error {
	if s.onConnectedHandler == nil {
		return errors.New("onConnectedHandler is nil")
	}

	for _, listenAddress := range s.listeningAddresses {
		err := s.listenOn(listenAddress)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *gRPCServer) listenOn(listenAddress string) error {
	listener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return errors.Wrapf(err, "error listening on %s", listenAddress)
	}

	boundAddress := listener.Addr().String()
	s.boundAddressesLock.Lock()
	s.boundAddresses = append(s.boundAddresses, boundAddress)
	s.boundAddressesLock.Unlock()

	spawn("gRPCServer.listenOn-Serve", func() {
		err := s.server.Serve(listener)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Errorf("Error serving on %s: %+v", boundAddress, err)
		}
	})

	log.Infof("P2P server listening on %s", boundAddress)
	return nil
}

// ListeningAddresses returns the addresses the server is actually bound to
func (s *gRPCServer) ListeningAddresses() []string {
	s.boundAddressesLock.Lock()
	defer s.boundAddressesLock.Unlock()

	addresses := make([]string, len(s.boundAddresses))
	copy(addresses, s.boundAddresses)
	return addresses
}

func (s *gRPCServer) Stop() error {
	stopChan := make(chan struct{})
	spawn("gRPCServer.Stop-GracefulStop", func() {
		s.server.GracefulStop()
		close(stopChan)
	})

	select {
	case <-stopChan:
	case <-time.After(stopTimeout):
		log.Warnf("Could not gracefully stop the P2P server: timed out after %s", stopTimeout)
		s.server.Stop()
	}
	return nil
}

// SetOnConnectedHandler sets the peer connected handler
// function for the server
func (s *gRPCServer) SetOnConnectedHandler(onConnectedHandler server.OnConnectedHandler) {
	s.onConnectedHandler = onConnectedHandler
}

// Connect connects to the given address
// This is part of the P2PServer interface
func (s *gRPCServer) Connect(ctx context.Context, address string) (server.Connection, error) {
	log.Debugf("Dialing to %s", address)

	dialOptions := []grpc.DialOption{
		grpc.WithInsecure(),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(appmessage.MaxMessagePayload),
			grpc.MaxCallSendMsgSize(appmessage.MaxMessagePayload)),
	}
	if s.proxy != "" {
		dialOptions = append(dialOptions, grpc.WithContextDialer(s.dialThroughProxy))
	}

	dialContext, cancelDial := context.WithTimeout(ctx, dialTimeout)
	defer cancelDial()

	gRPCClientConnection, err := grpc.DialContext(dialContext, address, dialOptions...)
	if err != nil {
		return nil, errors.Wrapf(server.ErrNetwork, "error connecting to %s: %s", address, err)
	}

	streamContext, cancelStream := context.WithCancel(context.Background())
	stream, err := gRPCClientConnection.NewStream(streamContext, &p2pServiceDesc.Streams[0], messageStreamMethod)
	if err != nil {
		cancelStream()
		_ = gRPCClientConnection.Close()
		return nil, errors.Wrapf(server.ErrNetwork, "error getting client stream for %s: %s", address, err)
	}

	connection := newConnection(address, stream, gRPCClientConnection, cancelStream)

	err = s.onConnectedHandler(connection)
	if err != nil {
		connection.Disconnect()
		return nil, err
	}

	log.Infof("Connected to %s", address)

	return connection, nil
}

func (s *gRPCServer) dialThroughProxy(ctx context.Context, address string) (net.Conn, error) {
	proxy := &socks.Proxy{Addr: s.proxy}
	type dialResult struct {
		connection net.Conn
		err        error
	}
	resultChan := make(chan dialResult, 1)
	spawn("gRPCServer.dialThroughProxy", func() {
		connection, err := proxy.Dial("tcp", address)
		resultChan <- dialResult{connection: connection, err: err}
	})

	select {
	case result := <-resultChan:
		return result.connection, result.err
	case <-ctx.Done():
		spawn("gRPCServer.dialThroughProxy-cleanup", func() {
			result := <-resultChan
			if result.connection != nil {
				_ = result.connection.Close()
			}
		})
		return nil, ctx.Err()
	}
}
