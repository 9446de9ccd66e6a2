// Package events defines the engine's outbound event contract. Services emit
// through the Publisher port; delivery mechanics belong to the bus.
package events

import (
	"context"
	"time"
)

type Type string

const (
	TypeCreated  Type = "CREATED"
	TypeModified Type = "MODIFIED"
	TypeDeleted  Type = "DELETED"
)

type Target string

const (
	TargetConsumer    Target = "CONSUMER"
	TargetPool        Target = "POOL"
	TargetEntitlement Target = "ENTITLEMENT"
)

// Event is the observable record of a state change. ObjectID is the string
// form of the affected entity's identifier.
type Event struct {
	Type      Type      `json:"type"`
	Target    Target    `json:"target"`
	ObjectID  string    `json:"objectId"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits events to the bus. Emit failures are surfaced to callers
// but never roll back the mutation that produced the event.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// New stamps an event with the current time.
func New(t Type, target Target, objectID string) Event {
	return Event{Type: t, Target: target, ObjectID: objectID, Timestamp: time.Now()}
}
