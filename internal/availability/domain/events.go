package domain

import (
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"

	"github.com/google/uuid"
)

// RoutingKeySlotStatusChanged is published on every slot sync-status change.
const RoutingKeySlotStatusChanged = "cadence.availability.slot.status_changed"

// SlotStatusChangedEvent records a sync-status transition. From is empty for
// newly created slots.
type SlotStatusChangedEvent struct {
	sharedDomain.BaseEvent
	ClinicianID uuid.UUID
	From        SyncStatus
	To          SyncStatus
}

// NewSlotStatusChangedEvent creates a SlotStatusChangedEvent.
func NewSlotStatusChangedEvent(slotID, clinicianID uuid.UUID, from, to SyncStatus) *SlotStatusChangedEvent {
	return &SlotStatusChangedEvent{
		BaseEvent:   sharedDomain.NewBaseEvent(slotID, "availability_slot", RoutingKeySlotStatusChanged),
		ClinicianID: clinicianID,
		From:        from,
		To:          to,
	}
}
