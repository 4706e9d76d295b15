package protocolerrors

import "github.com/pkg/errors"

// ProtocolError is an error that signifies a violation
// of the peer-to-peer protocol by the remote side
type ProtocolError struct {
	ShouldDisconnect bool
	Cause            error
}

func (e *ProtocolError) Error() string {
	return e.Cause.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Errorf formats according to a format specifier and returns the string
// as a value that satisfies error.
// Errorf also records the stack trace at the point it was called.
func Errorf(shouldDisconnect bool, format string, args ...interface{}) error {
	return &ProtocolError{
		ShouldDisconnect: shouldDisconnect,
		Cause:            errors.Errorf(format, args...),
	}
}

// New returns an error with the supplied message.
// New also records the stack trace at the point it was called.
func New(shouldDisconnect bool, message string) error {
	return &ProtocolError{
		ShouldDisconnect: shouldDisconnect,
		Cause:            errors.New(message),
	}
}

// Wrapf returns an error annotating err with a stack trace
// at the point Wrapf is called, and the format specifier.
func Wrapf(shouldDisconnect bool, err error, format string, args ...interface{}) error {
	return &ProtocolError{
		ShouldDisconnect: shouldDisconnect,
		Cause:            errors.Wrapf(err, format, args...),
	}
}

// IsProtocolError returns whether err is, or wraps, a ProtocolError
func IsProtocolError(err error) bool {
	var protocolErr *ProtocolError
	return errors.As(err, &protocolErr)
}
