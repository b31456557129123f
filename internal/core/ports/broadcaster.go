package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/teamgrid/realtime-hub/internal/core/domain"
)

// EventBroadcaster defines the port producers use to hand events to the hub.
// Delivery is best-effort: an event submitted while a recipient is offline
// is permanently missed, and producers must not rely on the hub for replay.
type EventBroadcaster interface {
	// Broadcast routes an event to its target rooms per the dispatch table.
	Broadcast(event domain.Event) error

	// SendToUser delivers an event to every live connection of one user,
	// regardless of room membership.
	SendToUser(userID uuid.UUID, event domain.Event)
}

// Backplane is the cross-node fanout seam. A single-node deployment uses the
// no-op implementation; multi-node deployments plug in a pub/sub broker so a
// dispatch on one hub instance reaches connections held by another.
type Backplane interface {
	// Publish relays a locally-originated event to peer hub instances.
	Publish(ctx context.Context, event domain.Event) error

	// Subscribe registers the handler invoked for events relayed by peers.
	// The implementation must suppress this instance's own publications.
	Subscribe(ctx context.Context, handler func(domain.Event)) error

	// Close releases broker resources.
	Close() error
}

// NoopBackplane is the single-node Backplane.
type NoopBackplane struct{}

func (NoopBackplane) Publish(context.Context, domain.Event) error { return nil }

func (NoopBackplane) Subscribe(context.Context, func(domain.Event)) error { return nil }

func (NoopBackplane) Close() error { return nil }
