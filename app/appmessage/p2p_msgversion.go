package appmessage

import (
	"fmt"

	"github.com/kaspanet/dagsync/domain/consensus/model"
)

// ProtocolVersion is the version of the sync protocol spoken by this node
const ProtocolVersion uint32 = 1

// MsgVersion is the first message each side of a connection sends. It
// identifies the sending authority and the protocol version it speaks.
type MsgVersion struct {
	baseMessage
	ProtocolVersion uint32
	Authority       model.AuthorityIndex
	CommitteeSize   uint32
}

// Command returns the protocol command string for the message. This is part
// of the Message interface implementation.
func (msg *MsgVersion) Command() MessageCommand {
	return CmdVersion
}

func (msg *MsgVersion) String() string {
	return fmt.Sprintf("Version(authority %d, protocol %d, committee of %d)",
		msg.Authority, msg.ProtocolVersion, msg.CommitteeSize)
}

// NewMsgVersion returns a new version message that conforms to the
// Message interface.
func NewMsgVersion(protocolVersion uint32, authority model.AuthorityIndex, committeeSize int) *MsgVersion {
	return &MsgVersion{
		ProtocolVersion: protocolVersion,
		Authority:       authority,
		CommitteeSize:   uint32(committeeSize),
	}
}
