package grpcserver

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kaspanet/dagsync/app/protocol/protocolerrors"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/router"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server/grpcserver/protowire"
)

// connectionLoops runs the receive and send loops until either of them
// stops. Whichever loop stops first disconnects the connection, which in
// turn stops the other.
func (c *gRPCConnection) connectionLoops() error {
	group, groupCtx := errgroup.WithContext(c.ctx)

	group.Go(func() error {
		defer c.Disconnect()
		return c.receiveLoop(groupCtx)
	})
	group.Go(func() error {
		defer close(c.sendLoopDone)
		defer c.Disconnect()
		return c.sendLoop(groupCtx)
	})

	return group.Wait()
}

func (c *gRPCConnection) sendLoop(ctx context.Context) error {
	outgoingRoute := c.router.OutgoingRoute()
	for {
		message, err := outgoingRoute.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, router.ErrRouteClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		frame, err := protowire.FromAppMessage(message)
		if err != nil {
			return err
		}

		err = c.stream.SendMsg(frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(server.ErrNetwork, "error sending to %s: %s", c, err)
		}
	}
}

func (c *gRPCConnection) receiveLoop(ctx context.Context) error {
	for {
		frame := &protowire.P2PMessage{}
		err := c.stream.RecvMsg(frame)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(server.ErrNetwork, "error receiving from %s: %s", c, err)
		}

		message, err := frame.ToAppMessage()
		if err != nil {
			c.invalidMessage(err)
			return err
		}
		message.SetReceivedAt(time.Now())

		err = c.router.EnqueueIncomingMessage(ctx, message)
		if err != nil {
			if protocolerrors.IsProtocolError(err) {
				c.invalidMessage(err)
			}
			if ctx.Err() != nil || errors.Is(err, router.ErrRouteClosed) {
				return nil
			}
			return err
		}
	}
}

func (c *gRPCConnection) invalidMessage(err error) {
	if c.onInvalidMessageHandler != nil {
		c.onInvalidMessageHandler(err)
		return
	}
	log.Warnf("Invalid message from %s: %s", c, err)
}
