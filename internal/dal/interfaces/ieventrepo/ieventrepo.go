package ieventrepo

import (
	"context"

	"github.com/corray333/backend-labs/materials/internal/service/models/event"
)

// IEventPublisher publishes domain events.
type IEventPublisher interface {
	Publish(ctx context.Context, evt event.Event) error
}
