package consumer

import (
	"time"

	id "entpool/pkg/domain"
)

// Type classifies a registered consumer. Eligibility rules key off it.
type Type string

const (
	TypeSystem     Type = "system"
	TypePerson     Type = "person"
	TypeDomain     Type = "domain"
	TypeHypervisor Type = "hypervisor"
	// TypeCandlepin marks a downstream server consumer created by manifest
	// export/import.
	TypeCandlepin Type = "candlepin"
)

var validTypes = map[Type]bool{
	TypeSystem:     true,
	TypePerson:     true,
	TypeDomain:     true,
	TypeHypervisor: true,
	TypeCandlepin:  true,
}

func (t Type) IsValid() bool {
	return validTypes[t]
}

// Facts the engine interprets. All other fact keys are opaque.
const (
	FactVirtIsGuest = "virt.is_guest"
	FactVirtUUID    = "virt.uuid"
)

// MaxFactValueLen bounds stored fact values; oversized values are rejected
// before any mutation.
const MaxFactValueLen = 255

// Consumer is a registered entitlement consumer. Facts and guest IDs are the
// mutable surface the change notifier watches.
type Consumer struct {
	ID       id.ConsumerID
	Owner    id.OwnerID
	Name     string
	Username string
	Type     Type

	Facts             map[string]string
	InstalledProducts []id.ProductID

	// GuestIDs are the virt UUIDs a host consumer has declared. Guests link
	// back through their virt.uuid fact; the mapping is resolved by lookup,
	// never stored as a back-pointer.
	GuestIDs []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsGuest reports whether the consumer has declared itself a virtual guest.
func (c *Consumer) IsGuest() bool {
	return c.Facts[FactVirtIsGuest] == "true"
}

// VirtUUID returns the guest's own virt UUID, empty for hosts.
func (c *Consumer) VirtUUID() string {
	return c.Facts[FactVirtUUID]
}

func (c *Consumer) clone() *Consumer {
	out := *c
	out.Facts = make(map[string]string, len(c.Facts))
	for k, v := range c.Facts {
		out.Facts[k] = v
	}
	out.InstalledProducts = append([]id.ProductID{}, c.InstalledProducts...)
	out.GuestIDs = append([]string{}, c.GuestIDs...)
	return &out
}
