package catalog

import (
	"strconv"

	id "entpool/pkg/domain"
)

// Recognized product attribute keys. Unknown keys are carried but have no
// effect on derivation or eligibility.
const (
	AttrVirtLimit            = "virt_limit"
	AttrStackingID           = "stacking_id"
	AttrRequiresConsumerType = "requires_consumer_type"
	AttrVirtOnly             = "virt_only"
	AttrUserLicense          = "user_license"
	AttrUserLicenseProduct   = "user_license_product"
	AttrMultiEntitlement     = "multi-entitlement"
)

// VirtLimitUnlimited is the attribute value marking an unbounded guest pool.
const VirtLimitUnlimited = "unlimited"

// Attributes is the dynamic key-value bag attached to products and copied onto
// pools at derivation time.
type Attributes map[string]string

// Get returns the value for key, or empty string when absent.
func (a Attributes) Get(key string) string {
	if a == nil {
		return ""
	}
	return a[key]
}

// Has reports whether key is present with a non-empty value.
func (a Attributes) Has(key string) bool {
	return a.Get(key) != ""
}

// Bool reports whether key is present and set to "true" or "yes".
func (a Attributes) Bool(key string) bool {
	v := a.Get(key)
	return v == "true" || v == "yes"
}

// Clone copies the bag so pool attributes do not alias product state.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// VirtLimit decodes the virt_limit attribute. unlimited is true for the
// "unlimited" marker; otherwise limit holds the positive per-host guest count.
// ok is false when the attribute is absent or unparseable.
func (a Attributes) VirtLimit() (limit int64, unlimited bool, ok bool) {
	v := a.Get(AttrVirtLimit)
	if v == "" {
		return 0, false, false
	}
	if v == VirtLimitUnlimited {
		return 0, true, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, false, false
	}
	return n, false, true
}

// Product is the catalog's view of a sellable product. The engine reads it
// fresh on every refresh so attribute edits propagate.
type Product struct {
	ID               id.ProductID
	Name             string
	Multiplier       int64
	Attributes       Attributes
	ProvidedProducts []id.ProductID

	// Derived is the sub-product exposed through a subscription's
	// sub_product_id, when present.
	Derived *Product
}

// EffectiveMultiplier normalizes the multiplier: values <= 0 behave as 1.
func (p *Product) EffectiveMultiplier() int64 {
	if p.Multiplier <= 0 {
		return 1
	}
	return p.Multiplier
}

// MultiEntitlement reports whether a consumer may hold more than one
// entitlement to the same pool of this product.
func (p *Product) MultiEntitlement() bool {
	return p.Attributes.Bool(AttrMultiEntitlement)
}
