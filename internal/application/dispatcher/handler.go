package dispatcher

import (
	"context"

	"github.com/garyjia/letter-approval/internal/domain/event"
)

// Handler reacts to one letter event. Returning an error never affects the
// transition that produced the event.
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a registration. Handler is nil in ListHandlers output.
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
