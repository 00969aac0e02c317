package gateway

import (
	"context"
	"time"

	"github.com/wuchris-ch/notification-app/internal/domain"
)

// Router picks a Sender by destination kind.
type Router struct {
	routes map[domain.DestinationKind]Sender
}

func NewRouter() *Router {
	return &Router{routes: make(map[domain.DestinationKind]Sender)}
}

// Handle registers s for destinations of kind.
func (r *Router) Handle(kind domain.DestinationKind, s Sender) *Router {
	r.routes[kind] = s
	return r
}

// Send reports malformed_destination for invalid destinations and for kinds
// with no registered sender.
func (r *Router) Send(ctx context.Context, dest domain.Destination, n domain.Notification) domain.SendResult {
	start := time.Now()
	if !dest.IsValid() {
		return malformed(dest, start, "%v", domain.ErrInvalidDestination)
	}
	s, ok := r.routes[dest.Kind()]
	if !ok {
		return malformed(dest, start, "no gateway configured for %s destinations", dest.Kind())
	}
	return s.Send(ctx, dest, n)
}
