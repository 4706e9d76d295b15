package protocolerrors

import (
	"testing"

	"github.com/pkg/errors"
)

func TestIsProtocolError(t *testing.T) {
	protocolErr := Errorf(true, "peer %d sent garbage", 3)
	if !IsProtocolError(protocolErr) {
		t.Fatalf("TestIsProtocolError: expected a protocol error")
	}

	wrapped := errors.Wrap(protocolErr, "handshake failed")
	if !IsProtocolError(wrapped) {
		t.Fatalf("TestIsProtocolError: expected a wrapped protocol error to be detected")
	}

	var target *ProtocolError
	if !errors.As(wrapped, &target) || !target.ShouldDisconnect {
		t.Fatalf("TestIsProtocolError: expected ShouldDisconnect to survive wrapping")
	}

	if IsProtocolError(errors.New("plain")) {
		t.Fatalf("TestIsProtocolError: a plain error is not a protocol error")
	}
}
