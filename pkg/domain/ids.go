// Package domain holds typed identifiers shared across the engine. Typed IDs
// prevent cross-entity assignment at compile time; parse helpers enforce the
// UUID invariant at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "entpool/pkg/domain-errors"
)

// UUID-backed identifiers. Construct via NewXxxID for fresh entities or
// ParseXxxID for external input; direct casting bypasses validation.
type (
	OwnerID        uuid.UUID
	SubscriptionID uuid.UUID
	PoolID         uuid.UUID
	EntitlementID  uuid.UUID
	ConsumerID     uuid.UUID
	ImportRecordID uuid.UUID
)

// ProductID is the catalog's SKU-style identifier; it is owner-supplied text,
// not a UUID.
type ProductID string

func (p ProductID) String() string { return string(p) }

// SerialID numbers entitlement certificates. Serials are allocated once and
// never reused, even after revocation.
type SerialID int64

func NewOwnerID() OwnerID               { return OwnerID(uuid.New()) }
func NewSubscriptionID() SubscriptionID { return SubscriptionID(uuid.New()) }
func NewPoolID() PoolID                 { return PoolID(uuid.New()) }
func NewEntitlementID() EntitlementID   { return EntitlementID(uuid.New()) }
func NewConsumerID() ConsumerID         { return ConsumerID(uuid.New()) }
func NewImportRecordID() ImportRecordID { return ImportRecordID(uuid.New()) }

func (id OwnerID) String() string        { return uuid.UUID(id).String() }
func (id SubscriptionID) String() string { return uuid.UUID(id).String() }
func (id PoolID) String() string         { return uuid.UUID(id).String() }
func (id EntitlementID) String() string  { return uuid.UUID(id).String() }
func (id ConsumerID) String() string     { return uuid.UUID(id).String() }
func (id ImportRecordID) String() string { return uuid.UUID(id).String() }

func (id OwnerID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id SubscriptionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PoolID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id EntitlementID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ConsumerID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "nil id")
	}
	return u, nil
}

func ParseOwnerID(s string) (OwnerID, error) {
	u, err := parseUUID(s)
	return OwnerID(u), err
}

func ParseSubscriptionID(s string) (SubscriptionID, error) {
	u, err := parseUUID(s)
	return SubscriptionID(u), err
}

func ParsePoolID(s string) (PoolID, error) {
	u, err := parseUUID(s)
	return PoolID(u), err
}

func ParseEntitlementID(s string) (EntitlementID, error) {
	u, err := parseUUID(s)
	return EntitlementID(u), err
}

func ParseConsumerID(s string) (ConsumerID, error) {
	u, err := parseUUID(s)
	return ConsumerID(u), err
}
