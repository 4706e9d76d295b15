package appmessage

import (
	"github.com/kaspanet/dagsync/domain/consensus/model"
)

// MsgBlock carries a single block
type MsgBlock struct {
	baseMessage
	Block *model.Block
}

// Command returns the protocol command string for the message. This is part
// of the Message interface implementation.
func (msg *MsgBlock) Command() MessageCommand {
	return CmdBlock
}

func (msg *MsgBlock) String() string {
	return "Block(" + msg.Block.Reference().String() + ")"
}

// NewMsgBlock returns a new block message
func NewMsgBlock(block *model.Block) *MsgBlock {
	return &MsgBlock{Block: block}
}
