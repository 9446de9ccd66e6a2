package entitlement

import (
	"time"

	id "entpool/pkg/domain"
)

// Certificate backs an entitlement. Serials are never reused; once revoked a
// certificate stays revoked.
type Certificate struct {
	Serial    id.SerialID
	Revoked   bool
	CertBytes []byte
}

// Entitlement is a consumer's claim against a pool's quantity. It is owned
// exclusively by the consumer that created it; deleting it releases its
// quantity back to the pool and revokes its certificates.
type Entitlement struct {
	ID       id.EntitlementID
	Pool     id.PoolID
	Consumer id.ConsumerID
	Quantity int64

	Certificates []Certificate

	CreatedAt time.Time
}

func (e *Entitlement) clone() *Entitlement {
	out := *e
	out.Certificates = append([]Certificate{}, e.Certificates...)
	return &out
}

// Serials lists the certificate serials attached to the entitlement.
func (e *Entitlement) Serials() []id.SerialID {
	out := make([]id.SerialID, len(e.Certificates))
	for i, c := range e.Certificates {
		out[i] = c.Serial
	}
	return out
}
