package catalog

import (
	"context"

	id "entpool/pkg/domain"
)

// Catalog supplies product definitions. The engine treats it as a read-only
// external collaborator; GetProduct must reflect the latest attribute edits
// at refresh time, so callers never cache results across refreshes.
type Catalog interface {
	GetProduct(ctx context.Context, productID id.ProductID) (*Product, error)
}
