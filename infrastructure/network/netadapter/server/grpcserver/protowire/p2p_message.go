package protowire

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/app/protocol/protocolerrors"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/domain/consensus/utils/serialization"
)

const (
	messageFieldCommand protowire.Number = 1
	messageFieldPayload protowire.Number = 2
)

// P2PMessage is the frame every message travels in over the gRPC stream:
// a command followed by the command-specific payload
type P2PMessage struct {
	Command appmessage.MessageCommand
	Payload []byte
}

// Marshal encodes the frame in protobuf wire format
func (m *P2PMessage) Marshal() []byte {
	var encoded []byte
	encoded = protowire.AppendTag(encoded, messageFieldCommand, protowire.VarintType)
	encoded = protowire.AppendVarint(encoded, uint64(m.Command))
	encoded = protowire.AppendTag(encoded, messageFieldPayload, protowire.BytesType)
	return protowire.AppendBytes(encoded, m.Payload)
}

// Unmarshal decodes a frame produced by Marshal into m
func (m *P2PMessage) Unmarshal(data []byte) error {
	fields, err := consumeFields(data)
	if err != nil {
		return err
	}
	command, ok := fields.varints[messageFieldCommand]
	if !ok {
		return protocolerrors.New(true, "message frame is missing its command")
	}
	m.Command = appmessage.MessageCommand(command)
	// The frame may live in a buffer owned by the transport.
	m.Payload = append([]byte(nil), fields.bytes[messageFieldPayload]...)
	return nil
}

// FromAppMessage converts an appmessage into its wire frame
func FromAppMessage(message appmessage.Message) (*P2PMessage, error) {
	var payload []byte
	switch message := message.(type) {
	case *appmessage.MsgVersion:
		payload = protowire.AppendTag(payload, 1, protowire.VarintType)
		payload = protowire.AppendVarint(payload, uint64(message.ProtocolVersion))
		payload = protowire.AppendTag(payload, 2, protowire.VarintType)
		payload = protowire.AppendVarint(payload, uint64(message.Authority))
		payload = protowire.AppendTag(payload, 3, protowire.VarintType)
		payload = protowire.AppendVarint(payload, uint64(message.CommitteeSize))
	case *appmessage.MsgSubscribeOwnFrom:
		payload = protowire.AppendTag(payload, 1, protowire.VarintType)
		payload = protowire.AppendVarint(payload, uint64(message.Round))
	case *appmessage.MsgBlock:
		payload = serialization.SerializeBlock(message.Block)
	default:
		return nil, errors.Errorf("no wire encoding for message of type %T", message)
	}
	return &P2PMessage{Command: message.Command(), Payload: payload}, nil
}

// ToAppMessage converts the frame back into an appmessage
func (m *P2PMessage) ToAppMessage() (appmessage.Message, error) {
	switch m.Command {
	case appmessage.CmdVersion:
		fields, err := consumeFields(m.Payload)
		if err != nil {
			return nil, err
		}
		return &appmessage.MsgVersion{
			ProtocolVersion: uint32(fields.varints[1]),
			Authority:       model.AuthorityIndex(fields.varints[2]),
			CommitteeSize:   uint32(fields.varints[3]),
		}, nil
	case appmessage.CmdSubscribeOwnFrom:
		fields, err := consumeFields(m.Payload)
		if err != nil {
			return nil, err
		}
		return appmessage.NewMsgSubscribeOwnFrom(model.RoundNumber(fields.varints[1])), nil
	case appmessage.CmdBlock:
		block, err := serialization.DeserializeBlock(m.Payload)
		if err != nil {
			return nil, protocolerrors.Wrapf(true, err, "received an invalid block")
		}
		return appmessage.NewMsgBlock(block), nil
	default:
		return nil, protocolerrors.Errorf(true, "unknown message command %d", uint32(m.Command))
	}
}

type decodedFields struct {
	varints map[protowire.Number]uint64
	bytes   map[protowire.Number][]byte
}

// consumeFields decodes a flat message made of varint and bytes fields
func consumeFields(data []byte) (*decodedFields, error) {
	fields := &decodedFields{
		varints: make(map[protowire.Number]uint64),
		bytes:   make(map[protowire.Number][]byte),
	}
	for len(data) > 0 {
		number, wireType, tagLength := protowire.ConsumeTag(data)
		if tagLength < 0 {
			return nil, protocolerrors.Wrapf(true, protowire.ParseError(tagLength), "malformed field tag")
		}
		data = data[tagLength:]

		var fieldLength int
		switch wireType {
		case protowire.VarintType:
			var value uint64
			value, fieldLength = protowire.ConsumeVarint(data)
			fields.varints[number] = value
		case protowire.BytesType:
			var value []byte
			value, fieldLength = protowire.ConsumeBytes(data)
			fields.bytes[number] = value
		default:
			return nil, protocolerrors.Errorf(true, "unsupported wire type %d for field %d", wireType, number)
		}
		if fieldLength < 0 {
			return nil, protocolerrors.Wrapf(true, protowire.ParseError(fieldLength), "malformed field %d", number)
		}
		data = data[fieldLength:]
	}
	return fields, nil
}
