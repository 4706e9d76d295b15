package grpcserver

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server/grpcserver/protowire"
)

// codecName is the gRPC content-subtype under which P2PMessage frames travel
const codecName = "dagsync"

const messageStreamMethod = "/dagsync.P2P/MessageStream"

func init() {
	encoding.RegisterCodec(frameCodec{})
}

// frameCodec lets gRPC carry protowire.P2PMessage frames without generated
// protobuf types
type frameCodec struct{}

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	message, ok := v.(*protowire.P2PMessage)
	if !ok {
		return nil, errors.Errorf("cannot marshal %T", v)
	}
	return message.Marshal(), nil
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	message, ok := v.(*protowire.P2PMessage)
	if !ok {
		return errors.Errorf("cannot unmarshal into %T", v)
	}
	return message.Unmarshal(data)
}

func (frameCodec) Name() string {
	return codecName
}

// messageStreamServer is implemented by the handler of the P2P service
type messageStreamServer interface {
	MessageStream(stream grpc.ServerStream) error
}

func messageStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(messageStreamServer).MessageStream(stream)
}

// p2pServiceDesc describes the P2P service: a single bidirectional stream
// of P2PMessage frames per connection
var p2pServiceDesc = grpc.ServiceDesc{
	ServiceName: "dagsync.P2P",
	HandlerType: (*messageStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "MessageStream",
			Handler:       messageStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "p2p",
}
