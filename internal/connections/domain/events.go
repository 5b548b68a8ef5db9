package domain

import (
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"

	"github.com/google/uuid"
)

// Routing keys for connection events.
const (
	RoutingKeyConnectionLinked      = "cadence.connections.linked"
	RoutingKeyConnectionDeactivated = "cadence.connections.deactivated"
	RoutingKeyTokenRefreshed        = "cadence.connections.token.refreshed"
)

const aggregateTypeConnection = "connection"

// ConnectionLinkedEvent is published when a user links an external calendar.
type ConnectionLinkedEvent struct {
	sharedDomain.BaseEvent
	OwnerID  uuid.UUID
	Provider Provider
}

// NewConnectionLinkedEvent creates a ConnectionLinkedEvent.
func NewConnectionLinkedEvent(connID, ownerID uuid.UUID, provider Provider) *ConnectionLinkedEvent {
	return &ConnectionLinkedEvent{
		BaseEvent: sharedDomain.NewBaseEvent(connID, aggregateTypeConnection, RoutingKeyConnectionLinked),
		OwnerID:   ownerID,
		Provider:  provider,
	}
}

// ConnectionDeactivatedEvent is published when a connection becomes unusable,
// typically after the provider rejects the refresh token. Consumers surface a
// "reconnect your calendar" prompt to the owner.
type ConnectionDeactivatedEvent struct {
	sharedDomain.BaseEvent
	OwnerID  uuid.UUID
	Provider Provider
	Reason   string
}

// NewConnectionDeactivatedEvent creates a ConnectionDeactivatedEvent.
func NewConnectionDeactivatedEvent(connID, ownerID uuid.UUID, provider Provider, reason string) *ConnectionDeactivatedEvent {
	return &ConnectionDeactivatedEvent{
		BaseEvent: sharedDomain.NewBaseEvent(connID, aggregateTypeConnection, RoutingKeyConnectionDeactivated),
		OwnerID:   ownerID,
		Provider:  provider,
		Reason:    reason,
	}
}
