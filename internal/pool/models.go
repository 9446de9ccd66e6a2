package pool

import (
	"time"

	"entpool/internal/catalog"
	id "entpool/pkg/domain"
)

// Type orders pool kinds: NORMAL sorts before every derived type in list
// output, with no further ordering guarantee among derived kinds.
type Type string

const (
	TypeNormal        Type = "NORMAL"
	TypeBonus         Type = "BONUS"
	TypeUnmappedGuest Type = "UNMAPPED_GUEST"
	TypeStackDerived  Type = "STACK_DERIVED"
	TypeEntDerived    Type = "ENTITLEMENT_DERIVED"
)

// QuantityUnlimited marks a pool with no upper bound on consumption.
const QuantityUnlimited int64 = -1

// Pool-level attribute keys set by derivation, alongside attributes copied
// from the product.
const (
	// AttrUnmappedGuestsOnly restricts a pool to guest consumers whose host
	// cannot be resolved.
	AttrUnmappedGuestsOnly = "unmapped_guests_only"

	// AttrRequiresHost restricts a pool to guests whose resolved host is the
	// named consumer.
	AttrRequiresHost = "requires_host"

	// AttrGuestUUID keys an entitlement-derived pool to the guest-host
	// mapping it was created for, so re-derivation updates in place.
	AttrGuestUUID = "guest_uuid"
)

// Pool is a concrete allocatable quantity of entitlement capacity.
//
// Invariants: quantity = raw subscription quantity x normalized multiplier
// for NORMAL pools; 0 <= consumed <= quantity unless unlimited.
type Pool struct {
	ID    id.PoolID
	Owner id.OwnerID

	// Subscription is the backing subscription, nil-UUID for pools sourced
	// by an entitlement instead.
	Subscription id.SubscriptionID

	Product  id.ProductID
	Quantity int64
	Consumed int64
	Type     Type

	ProvidedProducts    []id.ProductID
	SubProduct          id.ProductID
	SubProvidedProducts []id.ProductID

	// SourceEntitlement is set on STACK_DERIVED and ENTITLEMENT_DERIVED
	// pools; deleting that entitlement deletes the pool.
	SourceEntitlement id.EntitlementID

	// SourceConsumer scopes a stack-derived pool to the consumer whose bind
	// created it.
	SourceConsumer id.ConsumerID

	// Attributes are copied from the product at derivation time, plus
	// pool-level restriction keys.
	Attributes catalog.Attributes

	StartDate time.Time
	EndDate   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Unlimited reports whether the pool has no consumption bound.
func (p *Pool) Unlimited() bool {
	return p.Quantity == QuantityUnlimited
}

// Derived reports whether the pool was spawned from another pool or
// entitlement rather than directly from a subscription.
func (p *Pool) Derived() bool {
	return p.Type != TypeNormal
}

func (p *Pool) clone() *Pool {
	out := *p
	out.ProvidedProducts = append([]id.ProductID{}, p.ProvidedProducts...)
	out.SubProvidedProducts = append([]id.ProductID{}, p.SubProvidedProducts...)
	out.Attributes = p.Attributes.Clone()
	return &out
}

// typeRank implements the NORMAL-first ordering contract.
func typeRank(t Type) int {
	if t == TypeNormal {
		return 0
	}
	return 1
}
