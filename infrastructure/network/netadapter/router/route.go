package router

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/app/protocol/protocolerrors"
)

const (
	// DefaultMaxMessages is the default capacity for a route with a capacity defined
	DefaultMaxMessages = 100
)

var (
	// ErrTimeout signifies that one of the router functions had a timeout.
	ErrTimeout = protocolerrors.New(true, "timeout expired")

	// ErrRouteClosed indicates that a route was closed while reading/writing.
	ErrRouteClosed = errors.New("route is closed")
)

// Route is a bounded queue of messages between a connection and the code
// handling it. Enqueue blocks while the route is full, which is what paces
// a sender to the speed of the transport.
//
// The underlying channel is never closed. Closing the route closes a
// separate signal channel instead, so that a blocked Enqueue can't panic.
type Route struct {
	name      string
	channel   chan appmessage.Message
	closed    chan struct{}
	closeOnce sync.Once
}

// NewRoute create a new Route
func NewRoute(name string) *Route {
	return NewRouteWithCapacity(name, DefaultMaxMessages)
}

// NewRouteWithCapacity creates a new Route that holds up to capacity messages
func NewRouteWithCapacity(name string, capacity int) *Route {
	return &Route{
		name:    name,
		channel: make(chan appmessage.Message, capacity),
		closed:  make(chan struct{}),
	}
}

// Enqueue enqueues a message to the Route, waiting for room if the route is
// full. It fails if the route is closed or ctx is done first.
func (r *Route) Enqueue(ctx context.Context, message appmessage.Message) error {
	if r.IsClosed() {
		return errors.Wrapf(ErrRouteClosed, "route '%s' is closed", r.name)
	}
	select {
	case r.channel <- message:
		return nil
	case <-r.closed:
		return errors.Wrapf(ErrRouteClosed, "route '%s' is closed", r.name)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "enqueue to route '%s' aborted", r.name)
	}
}

// Dequeue dequeues a message from the Route, waiting until one is available.
// It fails if the route is closed or ctx is done first.
func (r *Route) Dequeue(ctx context.Context) (appmessage.Message, error) {
	if r.IsClosed() {
		return nil, errors.Wrapf(ErrRouteClosed, "route '%s' is closed", r.name)
	}
	select {
	case message := <-r.channel:
		return message, nil
	case <-r.closed:
		return nil, errors.Wrapf(ErrRouteClosed, "route '%s' is closed", r.name)
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "dequeue from route '%s' aborted", r.name)
	}
}

// DequeueWithTimeout attempts to dequeue a message from the Route
// and returns an error if the given timeout expires first.
func (r *Route) DequeueWithTimeout(timeout time.Duration) (appmessage.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	message, err := r.Dequeue(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, errors.Wrapf(ErrTimeout, "route '%s' got timeout after %s", r.name, timeout)
	}
	return message, err
}

// IsClosed returns whether Close was called
func (r *Route) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// Close closes this route. Closing an already closed route does nothing.
func (r *Route) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
	})
}
