package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "entpool/pkg/domain"
	"entpool/pkg/platform/sentinel"
)

// IssueRequest carries the claims stamped into an entitlement certificate.
type IssueRequest struct {
	Entitlement id.EntitlementID
	Pool        id.PoolID
	Product     id.ProductID
	Consumer    id.ConsumerID
	Quantity    int64
	StartDate   time.Time
	EndDate     time.Time
}

// CertificateAuthority issues and revokes entitlement certificates.
// Revocation is permanent; a re-bind gets a fresh serial.
type CertificateAuthority interface {
	Issue(ctx context.Context, req IssueRequest) (Certificate, error)
	Revoke(ctx context.Context, serial id.SerialID) error
}

// SerialStatus is the queryable state of an issued serial.
type SerialStatus struct {
	Serial   id.SerialID
	Revoked  bool
	IssuedAt time.Time
}

// SerialStore allocates serial numbers and tracks revocation state.
// Implementations must never hand out the same serial twice.
type SerialStore interface {
	// NextSerial allocates a fresh, monotonically increasing serial.
	NextSerial(ctx context.Context) (id.SerialID, error)

	// MarkRevoked flips the serial to revoked. Revoking an already-revoked
	// serial is a no-op; an unknown serial is sentinel.ErrNotFound.
	MarkRevoked(ctx context.Context, serial id.SerialID) error

	Get(ctx context.Context, serial id.SerialID) (SerialStatus, error)
}

// SigningAuthority signs entitlement claims into compact JWT certificates.
// Byte-level X.509 encoding is a collaborator concern; the signed claims
// carry the same revocable-identity semantics.
type SigningAuthority struct {
	key     []byte
	serials SerialStore
	now     func() time.Time
}

func NewSigningAuthority(key []byte, serials SerialStore) *SigningAuthority {
	return &SigningAuthority{key: key, serials: serials, now: time.Now}
}

func (a *SigningAuthority) Issue(ctx context.Context, req IssueRequest) (Certificate, error) {
	serial, err := a.serials.NextSerial(ctx)
	if err != nil {
		return Certificate{}, fmt.Errorf("allocate serial: %w", err)
	}

	claims := jwt.MapClaims{
		"serial":   int64(serial),
		"ent":      req.Entitlement.String(),
		"pool":     req.Pool.String(),
		"product":  req.Product.String(),
		"consumer": req.Consumer.String(),
		"quantity": req.Quantity,
		"nbf":      req.StartDate.Unix(),
		"exp":      req.EndDate.Unix(),
		"iat":      a.now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.key)
	if err != nil {
		return Certificate{}, fmt.Errorf("sign certificate: %w", err)
	}

	return Certificate{Serial: serial, CertBytes: []byte(signed)}, nil
}

func (a *SigningAuthority) Revoke(ctx context.Context, serial id.SerialID) error {
	err := a.serials.MarkRevoked(ctx, serial)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("revoke serial %d: %w", serial, err)
	}
	return nil
}

var _ CertificateAuthority = (*SigningAuthority)(nil)
