package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entpool/internal/platform/keylock"
	"entpool/internal/platform/metrics"
	"entpool/internal/subscription"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
	"entpool/pkg/platform/sentinel"
)

// Deriver re-derives the pool set a subscription implies.
type Deriver interface {
	ReconcileSubscription(ctx context.Context, sub *subscription.Subscription) error
}

// Cascader removes a subscription's pools, revoking their entitlements first.
type Cascader interface {
	OnSubscriptionRemoved(ctx context.Context, subID id.SubscriptionID) error
}

// Reconciler converges an owner's imported subscriptions to match a manifest.
// Entries are keyed by upstream entitlement ID: missing ones are created,
// present ones updated in place, and local imported subscriptions absent
// from the manifest are deleted with full cascade. Locally purchased
// subscriptions (no upstream ID) are never touched.
type Reconciler struct {
	subs    subscription.Store
	deriver Deriver
	cascade Cascader
	records RecordStore
	locks   *keylock.KeyLock
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func New(subs subscription.Store, deriver Deriver, cascade Cascader, records RecordStore, opts ...Option) (*Reconciler, error) {
	if subs == nil || deriver == nil || cascade == nil || records == nil {
		return nil, errors.New("reconciler requires subscription store, deriver, cascader and record store")
	}
	r := &Reconciler{
		subs:    subs,
		deriver: deriver,
		cascade: cascade,
		records: records,
		locks:   keylock.New(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Import applies raw manifest bytes for the owner. Imports for the same
// owner are serialized; different owners proceed in parallel. Every attempt
// leaves an audit record.
func (r *Reconciler) Import(ctx context.Context, owner id.OwnerID, raw []byte, force ...ForceFlag) (*ImportRecord, error) {
	r.locks.Lock(owner.String())
	defer r.locks.Unlock(owner.String())

	m, err := Decode(raw)
	if err != nil {
		return r.finish(ctx, owner, &Manifest{}, StatusFailure, err.Error()), err
	}

	if prev, err := r.records.LatestSuccess(ctx, owner); err == nil {
		if rejection := checkOrigin(prev, m, force); rejection != nil {
			return r.finish(ctx, owner, m, StatusFailure, rejection.Error()), rejection
		}
		if prev.Signature == m.Signature && !hasFlag(force, ForceManifestSame) {
			rec := r.finish(ctx, owner, m, StatusSuccess, "manifest unchanged; nothing to do")
			return rec, nil
		}
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load import history")
	}

	created, updated, deleted, err := r.reconcile(ctx, owner, m)
	if err != nil {
		r.finish(ctx, owner, m, StatusFailure, err.Error())
		return nil, err
	}

	msg := fmt.Sprintf("%d created, %d updated, %d deleted", created, updated, deleted)
	return r.finish(ctx, owner, m, StatusSuccess, msg), nil
}

// ListRecords returns the owner's import audit log, newest first.
func (r *Reconciler) ListRecords(ctx context.Context, owner id.OwnerID) ([]*ImportRecord, error) {
	recs, err := r.records.ListByOwner(ctx, owner)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list import records")
	}
	return recs, nil
}

func (r *Reconciler) reconcile(ctx context.Context, owner id.OwnerID, m *Manifest) (created, updated, deleted int, err error) {
	existing, err := r.subs.ListByOwner(ctx, owner)
	if err != nil {
		return 0, 0, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subscriptions")
	}
	imported := make(map[string]*subscription.Subscription)
	for _, sub := range existing {
		if sub.UpstreamEntitlementID != "" {
			imported[sub.UpstreamEntitlementID] = sub
		}
	}

	now := r.now()
	for _, entry := range m.Entries {
		local, present := imported[entry.UpstreamEntitlementID]
		if !present {
			sub := entrySubscription(owner, entry, now)
			if err := r.subs.Create(ctx, sub); err != nil {
				return created, updated, deleted, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create imported subscription")
			}
			if err := r.deriver.ReconcileSubscription(ctx, sub); err != nil {
				return created, updated, deleted, err
			}
			created++
			continue
		}
		delete(imported, entry.UpstreamEntitlementID)

		applyEntry(local, entry, now)
		if err := r.subs.Update(ctx, local); err != nil {
			return created, updated, deleted, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update imported subscription")
		}
		if err := r.deriver.ReconcileSubscription(ctx, local); err != nil {
			return created, updated, deleted, err
		}
		updated++
	}

	// Whatever is left was unbound upstream; absence drives deletion.
	for _, stale := range imported {
		if err := r.cascade.OnSubscriptionRemoved(ctx, stale.ID); err != nil {
			return created, updated, deleted, err
		}
		if err := r.subs.Delete(ctx, stale.ID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return created, updated, deleted, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete stale subscription")
		}
		deleted++
	}
	return created, updated, deleted, nil
}

func (r *Reconciler) finish(ctx context.Context, owner id.OwnerID, m *Manifest, status Status, msg string) *ImportRecord {
	rec := &ImportRecord{
		ID:        id.NewImportRecordID(),
		Owner:     owner,
		Status:    status,
		Message:   msg,
		Origin:    m.Origin,
		Signature: m.Signature,
		CreatedAt: r.now(),
	}
	if err := r.records.Append(ctx, rec); err != nil {
		r.logger.Error("import record not persisted", "owner_id", owner, "error", err)
	}
	if r.metrics != nil {
		r.metrics.ManifestImports.WithLabelValues(string(status)).Inc()
	}
	return rec
}

// checkOrigin rejects a manifest that collides with history from a different
// origin, unless the caller forces it through.
func checkOrigin(prev *ImportRecord, m *Manifest, force []ForceFlag) error {
	if prev.Origin == m.Origin {
		return nil
	}
	if prev.Signature == m.Signature {
		if hasFlag(force, ForceManifestSame) {
			return nil
		}
		return dErrors.New(dErrors.CodeConflict,
			"manifest matches an import from a different origin; pass MANIFEST_SAME to accept")
	}
	if hasFlag(force, ForceSignatureConflict) {
		return nil
	}
	return dErrors.New(dErrors.CodeConflict,
		"manifest signature conflicts with an import from a different origin; pass SIGNATURE_CONFLICT to override")
}

func hasFlag(flags []ForceFlag, want ForceFlag) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func entrySubscription(owner id.OwnerID, entry Entry, now time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		ID:                    id.NewSubscriptionID(),
		Owner:                 owner,
		Product:               entry.Product,
		Quantity:              entry.Quantity,
		ProvidedProducts:      append([]id.ProductID{}, entry.ProvidedProducts...),
		ContractNumber:        entry.ContractNumber,
		AccountNumber:         entry.AccountNumber,
		OrderNumber:           entry.OrderNumber,
		StartDate:             entry.StartDate,
		EndDate:               entry.EndDate,
		SubProduct:            entry.SubProduct,
		SubProvidedProducts:   append([]id.ProductID{}, entry.SubProvidedProducts...),
		UpstreamEntitlementID: entry.UpstreamEntitlementID,
		CertificateSerial:     entry.CertificateSerial,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// applyEntry rewrites the mutable fields while preserving the subscription's
// identity, so existing pools update in place on re-derivation.
func applyEntry(sub *subscription.Subscription, entry Entry, now time.Time) {
	sub.Product = entry.Product
	sub.Quantity = entry.Quantity
	sub.ProvidedProducts = append([]id.ProductID{}, entry.ProvidedProducts...)
	sub.ContractNumber = entry.ContractNumber
	sub.AccountNumber = entry.AccountNumber
	sub.OrderNumber = entry.OrderNumber
	sub.StartDate = entry.StartDate
	sub.EndDate = entry.EndDate
	sub.SubProduct = entry.SubProduct
	sub.SubProvidedProducts = append([]id.ProductID{}, entry.SubProvidedProducts...)
	sub.CertificateSerial = entry.CertificateSerial
	sub.UpdatedAt = now
}
