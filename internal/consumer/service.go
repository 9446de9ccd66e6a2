package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"entpool/internal/events"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
	"entpool/pkg/platform/sentinel"
)

// Service handles consumer registration and mutation. Mutations flow through
// the change notifier: an event is emitted only when the submitted state
// observably differs from the stored state.
type Service struct {
	store  Store
	bus    events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source for tests asserting on updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, bus events.Publisher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("consumer store is required")
	}
	if bus == nil {
		return nil, errors.New("event publisher is required")
	}
	svc := &Service{
		store:  store,
		bus:    bus,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates a consumer. At most one active person consumer may exist
// per (owner, username).
func (s *Service) Register(ctx context.Context, c *Consumer) (*Consumer, error) {
	if !c.Type.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown consumer type")
	}
	if c.Type == TypePerson && c.Username == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "person consumer requires a username")
	}
	if err := validateFacts(c.Facts); err != nil {
		return nil, err
	}

	if c.ID.IsNil() {
		c.ID = id.NewConsumerID()
	}
	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Facts == nil {
		c.Facts = map[string]string{}
	}

	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "consumer already registered for this user")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create consumer")
	}

	if err := s.bus.Emit(ctx, events.New(events.TypeCreated, events.TargetConsumer, c.ID.String())); err != nil {
		s.logger.Warn("consumer created event not delivered", "consumer_id", c.ID, "error", err)
	}
	return c, nil
}

// Get fetches a consumer, surfacing gone-vs-missing distinctly.
func (s *Service) Get(ctx context.Context, consumerID id.ConsumerID) (*Consumer, error) {
	c, err := s.store.Get(ctx, consumerID)
	if err != nil {
		return nil, translateLookup(err, "consumer")
	}
	return c, nil
}

// UpdateRequest carries the mutable consumer surface. Nil fields were not
// submitted and leave current state untouched; a non-nil fact map replaces
// the stored map wholesale.
type UpdateRequest struct {
	ID                id.ConsumerID
	Name              *string
	Facts             map[string]string
	InstalledProducts []id.ProductID
	GuestIDs          []string
}

// Update applies submitted mutable state. If the effective result equals
// current state the stored record is untouched, updated_at does not advance,
// and no event is emitted. Otherwise exactly one MODIFIED event is emitted.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*Consumer, bool, error) {
	if err := validateFacts(req.Facts); err != nil {
		return nil, false, err
	}

	current, err := s.store.Get(ctx, req.ID)
	if err != nil {
		return nil, false, translateLookup(err, "consumer")
	}

	updated := current.clone()
	if req.Name != nil {
		updated.Name = *req.Name
	}
	if req.Facts != nil {
		updated.Facts = req.Facts
	}
	if req.InstalledProducts != nil {
		updated.InstalledProducts = req.InstalledProducts
	}
	if req.GuestIDs != nil {
		updated.GuestIDs = req.GuestIDs
	}

	if !observableChange(current, updated) {
		return current, false, nil
	}
	updated.UpdatedAt = s.now()

	if err := s.store.Update(ctx, updated); err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update consumer")
	}

	if err := s.bus.Emit(ctx, events.New(events.TypeModified, events.TargetConsumer, updated.ID.String())); err != nil {
		s.logger.Warn("consumer modified event not delivered", "consumer_id", updated.ID, "error", err)
	}
	return updated, true, nil
}

// ResolveHost maps a guest consumer to its declared host, if any.
func (s *Service) ResolveHost(ctx context.Context, guest *Consumer) (*Consumer, bool, error) {
	virtUUID := guest.VirtUUID()
	if virtUUID == "" {
		return nil, false, nil
	}
	host, err := s.store.FindHostByGuestUUID(ctx, guest.Owner, virtUUID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve host")
	}
	return host, true, nil
}

// observableChange compares the full mutable surface: fact key set and
// values, name, installed products, and guest IDs. A resubmission matching
// current state, including a subset that happens to equal it, is no change.
func observableChange(current, incoming *Consumer) bool {
	if current.Name != incoming.Name {
		return true
	}
	if len(current.Facts) != len(incoming.Facts) {
		return true
	}
	for k, v := range current.Facts {
		iv, ok := incoming.Facts[k]
		if !ok || iv != v {
			return true
		}
	}
	if !equalProductIDs(current.InstalledProducts, incoming.InstalledProducts) {
		return true
	}
	if !equalStrings(current.GuestIDs, incoming.GuestIDs) {
		return true
	}
	return false
}

func validateFacts(facts map[string]string) error {
	for k, v := range facts {
		if len(v) > MaxFactValueLen {
			return dErrors.New(dErrors.CodeConstraintViolation, "fact value too long: "+k)
		}
	}
	return nil
}

func translateLookup(err error, what string) error {
	switch {
	case errors.Is(err, sentinel.ErrGone):
		return dErrors.Wrap(err, dErrors.CodeGone, what+" was deleted")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, what+" not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
	}
}

func equalProductIDs(a, b []id.ProductID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
