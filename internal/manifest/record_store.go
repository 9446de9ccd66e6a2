package manifest

import (
	"context"

	id "entpool/pkg/domain"
)

// RecordStore appends and lists import audit records.
type RecordStore interface {
	Append(ctx context.Context, rec *ImportRecord) error

	// ListByOwner returns the owner's records, newest first.
	ListByOwner(ctx context.Context, owner id.OwnerID) ([]*ImportRecord, error)

	// LatestSuccess returns the owner's most recent successful import, or
	// sentinel.ErrNotFound when the owner has never imported successfully.
	LatestSuccess(ctx context.Context, owner id.OwnerID) (*ImportRecord, error)
}
