package netadapter

import (
	"context"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/app/protocol/protocolerrors"
	"github.com/kaspanet/dagsync/domain/consensus/model"
)

// handshake exchanges MsgVersion with the peer and returns the authority
// index it announced
func (na *NetAdapter) handshake(netConnection *NetConnection) (model.AuthorityIndex, error) {
	ctx, cancel := context.WithTimeout(context.Background(), na.cfg.HandshakeTimeout)
	defer cancel()

	ownVersion := appmessage.NewMsgVersion(na.cfg.ProtocolVersion, na.cfg.Authority, na.cfg.CommitteeSize)
	err := netConnection.Send(ctx, ownVersion)
	if err != nil {
		return 0, err
	}

	message, err := netConnection.handshakeRoute.DequeueWithTimeout(na.cfg.HandshakeTimeout)
	if err != nil {
		return 0, err
	}
	msgVersion, ok := message.(*appmessage.MsgVersion)
	if !ok {
		return 0, protocolerrors.Errorf(true, "expected %s message but got %s",
			appmessage.CmdVersion, message.Command())
	}

	err = na.validateVersion(msgVersion)
	if err != nil {
		return 0, err
	}

	err = netConnection.router.RemoveRoute([]appmessage.MessageCommand{appmessage.CmdVersion})
	if err != nil {
		return 0, err
	}

	return msgVersion.Authority, nil
}

func (na *NetAdapter) validateVersion(msgVersion *appmessage.MsgVersion) error {
	if msgVersion.ProtocolVersion != na.cfg.ProtocolVersion {
		return protocolerrors.Errorf(true, "protocol version mismatch: ours is %d, peer's is %d",
			na.cfg.ProtocolVersion, msgVersion.ProtocolVersion)
	}
	if int(msgVersion.CommitteeSize) != na.cfg.CommitteeSize {
		return protocolerrors.Errorf(true, "committee size mismatch: ours is %d, peer's is %d",
			na.cfg.CommitteeSize, msgVersion.CommitteeSize)
	}
	if msgVersion.Authority == na.cfg.Authority {
		return protocolerrors.New(true, "connected to self")
	}
	if int(msgVersion.Authority) >= na.cfg.CommitteeSize {
		return protocolerrors.Errorf(true, "peer claims unknown authority %d", msgVersion.Authority)
	}
	return nil
}
