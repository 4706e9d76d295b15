package router

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/app/protocol/protocolerrors"
)

const outgoingRouteMaxMessages = DefaultMaxMessages

// Router routes incoming messages by type to their respective routes, and
// holds the single outgoing route of a connection
type Router struct {
	incomingRoutes     map[appmessage.MessageCommand]*Route
	incomingRoutesLock sync.RWMutex

	outgoingRoute *Route
}

// NewRouter creates a new empty router
func NewRouter(name string) *Router {
	router := Router{
		incomingRoutes: make(map[appmessage.MessageCommand]*Route),
		outgoingRoute:  NewRouteWithCapacity(name+"-outgoing", outgoingRouteMaxMessages),
	}
	return &router
}

// AddIncomingRoute registers the messages of types `messageTypes` to
// be routed to a new route with the given name
func (r *Router) AddIncomingRoute(name string, messageTypes []appmessage.MessageCommand) (*Route, error) {
	route := NewRoute(name)
	err := r.initializeIncomingRoute(route, messageTypes)
	if err != nil {
		return nil, err
	}
	return route, nil
}

func (r *Router) initializeIncomingRoute(route *Route, messageTypes []appmessage.MessageCommand) error {
	r.incomingRoutesLock.Lock()
	defer r.incomingRoutesLock.Unlock()

	for _, messageType := range messageTypes {
		if _, ok := r.incomingRoutes[messageType]; ok {
			return errors.Errorf("a route for '%s' already exists", messageType)
		}
	}
	for _, messageType := range messageTypes {
		r.incomingRoutes[messageType] = route
	}
	return nil
}

// RemoveRoute unregisters the messages of types `messageTypes` from
// the router
func (r *Router) RemoveRoute(messageTypes []appmessage.MessageCommand) error {
	r.incomingRoutesLock.Lock()
	defer r.incomingRoutesLock.Unlock()

	for _, messageType := range messageTypes {
		if _, ok := r.incomingRoutes[messageType]; !ok {
			return errors.Errorf("a route for '%s' does not exist", messageType)
		}
		delete(r.incomingRoutes, messageType)
	}
	return nil
}

// EnqueueIncomingMessage enqueues the given message to the
// appropriate route. A message nobody registered for is a protocol error.
func (r *Router) EnqueueIncomingMessage(ctx context.Context, message appmessage.Message) error {
	route, ok := r.incomingRoute(message.Command())
	if !ok {
		return protocolerrors.Errorf(true, "unexpected message '%s'", message.Command())
	}
	return route.Enqueue(ctx, message)
}

// OutgoingRoute returns the outgoing route
func (r *Router) OutgoingRoute() *Route {
	return r.outgoingRoute
}

// Close shuts down the router by closing all registered
// incoming routes and the outgoing route
func (r *Router) Close() {
	r.incomingRoutesLock.Lock()
	defer r.incomingRoutesLock.Unlock()

	for _, route := range r.incomingRoutes {
		route.Close()
	}
	r.outgoingRoute.Close()
}

func (r *Router) incomingRoute(messageType appmessage.MessageCommand) (*Route, bool) {
	r.incomingRoutesLock.RLock()
	defer r.incomingRoutesLock.RUnlock()

	route, ok := r.incomingRoutes[messageType]
	return route, ok
}
