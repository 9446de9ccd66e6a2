package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
)

// ForceFlag overrides a rejection the reconciler would otherwise apply.
type ForceFlag string

const (
	// ForceSignatureConflict accepts a manifest whose signature conflicts
	// with the previously imported one from a different origin.
	ForceSignatureConflict ForceFlag = "SIGNATURE_CONFLICT"

	// ForceManifestSame re-applies a manifest identical to the previous
	// import instead of short-circuiting to a no-op.
	ForceManifestSame ForceFlag = "MANIFEST_SAME"
)

// Entry snapshots one upstream entitlement as a subscription-equivalent
// record. UpstreamEntitlementID is the reconciliation key.
type Entry struct {
	UpstreamEntitlementID string       `json:"upstreamEntitlementId"`
	Product               id.ProductID `json:"productId"`
	Quantity              int64        `json:"quantity"`

	ProvidedProducts []id.ProductID `json:"providedProducts,omitempty"`

	ContractNumber string `json:"contractNumber,omitempty"`
	AccountNumber  string `json:"accountNumber,omitempty"`
	OrderNumber    string `json:"orderNumber,omitempty"`

	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`

	SubProduct          id.ProductID   `json:"derivedProductId,omitempty"`
	SubProvidedProducts []id.ProductID `json:"derivedProvidedProducts,omitempty"`

	CertificateSerial id.SerialID `json:"certificateSerial,omitempty"`
}

// Manifest is the decoded import payload: an origin-tagged, content-signed
// set of entries.
type Manifest struct {
	Origin    string  `json:"origin"`
	Signature string  `json:"signature"`
	Entries   []Entry `json:"entitlements"`
}

// Decode parses and validates raw manifest bytes. Entries must carry unique,
// non-empty upstream entitlement IDs.
func Decode(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "manifest is not valid JSON")
	}
	if m.Signature == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "manifest has no signature")
	}
	if m.Origin == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "manifest has no origin")
	}
	seen := make(map[string]struct{}, len(m.Entries))
	for i, e := range m.Entries {
		if e.UpstreamEntitlementID == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("manifest entry %d has no upstream entitlement id", i))
		}
		if _, dup := seen[e.UpstreamEntitlementID]; dup {
			return nil, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("duplicate upstream entitlement id %q", e.UpstreamEntitlementID))
		}
		seen[e.UpstreamEntitlementID] = struct{}{}
		if e.Quantity < 0 {
			return nil, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("entry %q has negative quantity", e.UpstreamEntitlementID))
		}
	}
	return &m, nil
}

// Status of a completed import attempt.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// ImportRecord is one line of the per-owner import audit log. Records are
// append-only; pruning happens outside the engine.
type ImportRecord struct {
	ID        id.ImportRecordID
	Owner     id.OwnerID
	Status    Status
	Message   string
	Origin    string
	Signature string
	CreatedAt time.Time
}
