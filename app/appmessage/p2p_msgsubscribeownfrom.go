package appmessage

import (
	"fmt"

	"github.com/kaspanet/dagsync/domain/consensus/model"
)

// MsgSubscribeOwnFrom asks the receiving authority to stream its own blocks,
// starting with the block of Round and in increasing round order.
// A new subscription replaces the previous one.
type MsgSubscribeOwnFrom struct {
	baseMessage
	Round model.RoundNumber
}

// Command returns the protocol command string for the message. This is part
// of the Message interface implementation.
func (msg *MsgSubscribeOwnFrom) Command() MessageCommand {
	return CmdSubscribeOwnFrom
}

func (msg *MsgSubscribeOwnFrom) String() string {
	return fmt.Sprintf("SubscribeOwnFrom(%d)", msg.Round)
}

// NewMsgSubscribeOwnFrom returns a new subscription message
func NewMsgSubscribeOwnFrom(round model.RoundNumber) *MsgSubscribeOwnFrom {
	return &MsgSubscribeOwnFrom{Round: round}
}
