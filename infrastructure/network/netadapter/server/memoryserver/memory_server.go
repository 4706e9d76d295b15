package memoryserver

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
)

type memoryServer struct {
	network            *Network
	address            string
	onConnectedHandler server.OnConnectedHandler
}

func (s *memoryServer) Start() error {
	if s.onConnectedHandler == nil {
		return errors.New("onConnectedHandler is nil")
	}
	err := s.network.register(s)
	if err != nil {
		return err
	}
	log.Debugf("Memory server listening on %s", s.address)
	return nil
}

func (s *memoryServer) Stop() error {
	for _, connection := range s.network.unregister(s) {
		connection.Disconnect()
	}
	return nil
}

func (s *memoryServer) SetOnConnectedHandler(onConnectedHandler server.OnConnectedHandler) {
	s.onConnectedHandler = onConnectedHandler
}

func (s *memoryServer) ListeningAddresses() []string {
	return []string{s.address}
}

// Connect connects to the memory server at address. The remote end is
// handed to the remote server's handler before this returns.
func (s *memoryServer) Connect(ctx context.Context, address string) (server.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(server.ErrNetwork, "cannot connect to %s: %s", address, err)
	}

	outbound, inbound, target, err := s.network.dial(s, address)
	if err != nil {
		return nil, err
	}

	err = target.onConnectedHandler(inbound)
	if err != nil {
		outbound.Disconnect()
		inbound.Disconnect()
		return nil, err
	}

	err = s.onConnectedHandler(outbound)
	if err != nil {
		outbound.Disconnect()
		inbound.Disconnect()
		return nil, err
	}

	log.Debugf("Connected %s to %s", s.address, address)
	return outbound, nil
}
