package protowire

import (
	"testing"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/app/protocol/protocolerrors"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/domain/consensus/utils/serialization"
)

func transmit(t *testing.T, message appmessage.Message) appmessage.Message {
	frame, err := FromAppMessage(message)
	if err != nil {
		t.Fatalf("FromAppMessage failed: %+v", err)
	}
	received := &P2PMessage{}
	err = received.Unmarshal(frame.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal failed: %+v", err)
	}
	decoded, err := received.ToAppMessage()
	if err != nil {
		t.Fatalf("ToAppMessage failed: %+v", err)
	}
	return decoded
}

func TestVersionOverTheWire(t *testing.T) {
	decoded := transmit(t, appmessage.NewMsgVersion(3, 2, 7)).(*appmessage.MsgVersion)
	if decoded.ProtocolVersion != 3 || decoded.Authority != 2 || decoded.CommitteeSize != 7 {
		t.Fatalf("TestVersionOverTheWire: unexpected %s", decoded)
	}
}

func TestSubscribeOwnFromOverTheWire(t *testing.T) {
	decoded := transmit(t, appmessage.NewMsgSubscribeOwnFrom(1<<40)).(*appmessage.MsgSubscribeOwnFrom)
	if decoded.Round != 1<<40 {
		t.Fatalf("TestSubscribeOwnFromOverTheWire: unexpected %s", decoded)
	}
}

func TestBlockOverTheWire(t *testing.T) {
	parent := serialization.NewBlock(0, 0, nil, nil)
	block := serialization.NewBlock(0, 1, []model.BlockReference{parent.Reference()}, [][]byte{[]byte("tx")})

	decoded := transmit(t, appmessage.NewMsgBlock(block)).(*appmessage.MsgBlock)
	if decoded.Block.Reference() != block.Reference() {
		t.Fatalf("TestBlockOverTheWire: expected %s, got %s", block.Reference(), decoded.Block.Reference())
	}
}

func TestInvalidFramesAreProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame *P2PMessage
	}{
		{name: "unknown command", frame: &P2PMessage{Command: 99}},
		{name: "corrupt block", frame: &P2PMessage{Command: appmessage.CmdBlock, Payload: []byte{0x08}}},
		{name: "corrupt subscription", frame: &P2PMessage{Command: appmessage.CmdSubscribeOwnFrom, Payload: []byte{0x08, 0xff}}},
	}
	for _, test := range tests {
		_, err := test.frame.ToAppMessage()
		if !protocolerrors.IsProtocolError(err) {
			t.Errorf("TestInvalidFramesAreProtocolErrors: %s: expected a protocol error, got %+v", test.name, err)
		}
	}

	err := (&P2PMessage{}).Unmarshal([]byte{0x12, 0x00})
	if !protocolerrors.IsProtocolError(err) {
		t.Errorf("TestInvalidFramesAreProtocolErrors: expected a protocol error for a frame without command, got %+v", err)
	}
}
