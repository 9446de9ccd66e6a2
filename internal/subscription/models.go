package subscription

import (
	"time"

	id "entpool/pkg/domain"
)

// Subscription is an owner's purchased (or imported) right to a quantity of a
// product. Pools are derived from it; it never carries consumed counts itself.
type Subscription struct {
	ID       id.SubscriptionID
	Owner    id.OwnerID
	Product  id.ProductID
	Quantity int64

	ProvidedProducts []id.ProductID

	ContractNumber string
	AccountNumber  string
	OrderNumber    string

	StartDate time.Time
	EndDate   time.Time

	// SubProduct is the derived product id exposed through the subscription,
	// empty when the product has none.
	SubProduct          id.ProductID
	SubProvidedProducts []id.ProductID

	// UpstreamEntitlementID ties an imported subscription to the upstream
	// entitlement it snapshots. Set only by manifest import; empty for
	// locally purchased subscriptions.
	UpstreamEntitlementID string

	// CertificateSerial is the upstream entitlement certificate serial
	// carried by the manifest, zero for local subscriptions.
	CertificateSerial id.SerialID

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Subscription) clone() *Subscription {
	out := *s
	out.ProvidedProducts = append([]id.ProductID{}, s.ProvidedProducts...)
	out.SubProvidedProducts = append([]id.ProductID{}, s.SubProvidedProducts...)
	return &out
}
