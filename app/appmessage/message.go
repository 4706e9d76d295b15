package appmessage

import (
	"fmt"
	"time"
)

// MaxMessagePayload is the maximum bytes a message can be regardless of other
// individual limits imposed by messages themselves.
const MaxMessagePayload = 1024 * 1024 * 32 // 32MB

// MessageCommand is a number in the header of a message that represents its type.
type MessageCommand uint32

func (cmd MessageCommand) String() string {
	cmdString, ok := ProtocolMessageCommandToString[cmd]
	if !ok {
		cmdString = "unknown command"
	}
	return fmt.Sprintf("%s [code %d]", cmdString, uint32(cmd))
}

// Commands used in message headers which describe the type of message.
const (
	CmdVersion MessageCommand = iota
	CmdSubscribeOwnFrom
	CmdBlock
)

// ProtocolMessageCommandToString maps all MessageCommands to their string representation
var ProtocolMessageCommandToString = map[MessageCommand]string{
	CmdVersion:          "Version",
	CmdSubscribeOwnFrom: "SubscribeOwnFrom",
	CmdBlock:            "Block",
}

// Message is an interface that describes a peer-to-peer message.
type Message interface {
	Command() MessageCommand
	MessageNumber() uint64
	SetMessageNumber(index uint64)
	ReceivedAt() time.Time
	SetReceivedAt(receivedAt time.Time)
}

type baseMessage struct {
	messageNumber uint64
	receivedAt    time.Time
}

func (b *baseMessage) MessageNumber() uint64 {
	return b.messageNumber
}

func (b *baseMessage) SetMessageNumber(messageNumber uint64) {
	b.messageNumber = messageNumber
}

func (b *baseMessage) ReceivedAt() time.Time {
	return b.receivedAt
}

func (b *baseMessage) SetReceivedAt(receivedAt time.Time) {
	b.receivedAt = receivedAt
}
