package consumer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entpool/internal/events"
	id "entpool/pkg/domain"
	dErrors "entpool/pkg/domain-errors"
)

func newTestService(t *testing.T) (*Service, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder()
	svc, err := New(NewInMemoryStore(), rec)
	require.NoError(t, err)
	return svc, rec
}

func register(t *testing.T, svc *Service, c *Consumer) *Consumer {
	t.Helper()
	out, err := svc.Register(context.Background(), c)
	require.NoError(t, err)
	return out
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	owner := id.NewOwnerID()

	t.Run("system consumer is created with CREATED event", func(t *testing.T) {
		svc, rec := newTestService(t)
		c := register(t, svc, &Consumer{Owner: owner, Name: "box1", Type: TypeSystem})

		assert.False(t, c.ID.IsNil())
		evs := rec.ByTarget(events.TargetConsumer)
		require.Len(t, evs, 1)
		assert.Equal(t, events.TypeCreated, evs[0].Type)
	})

	t.Run("second person consumer for same user conflicts", func(t *testing.T) {
		svc, _ := newTestService(t)
		register(t, svc, &Consumer{Owner: owner, Name: "alice", Username: "alice", Type: TypePerson})

		_, err := svc.Register(ctx, &Consumer{Owner: owner, Name: "alice again", Username: "alice", Type: TypePerson})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("oversized fact value is rejected before mutation", func(t *testing.T) {
		svc, rec := newTestService(t)
		_, err := svc.Register(ctx, &Consumer{
			Owner: owner,
			Name:  "box2",
			Type:  TypeSystem,
			Facts: map[string]string{"cpu.model": strings.Repeat("x", MaxFactValueLen+1)},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConstraintViolation))
		assert.Empty(t, rec.Events())
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.Register(ctx, &Consumer{Owner: owner, Name: "weird", Type: Type("toaster")})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestUpdate_ChangeNotification(t *testing.T) {
	ctx := context.Background()
	owner := id.NewOwnerID()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	rec := events.NewRecorder()
	svc, err := New(NewInMemoryStore(), rec, WithClock(tick))
	require.NoError(t, err)

	c := register(t, svc, &Consumer{
		Owner: owner,
		Name:  "host1",
		Type:  TypeSystem,
		Facts: map[string]string{"cpu.sockets": "2", "memory.gb": "64"},
	})
	rec.Reset()
	registeredAt := c.UpdatedAt

	t.Run("identical fact resubmission emits nothing", func(t *testing.T) {
		got, changed, err := svc.Update(ctx, UpdateRequest{
			ID:    c.ID,
			Facts: map[string]string{"cpu.sockets": "2", "memory.gb": "64"},
		})
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, registeredAt, got.UpdatedAt, "updated_at must not advance")
		assert.Empty(t, rec.Events())
	})

	t.Run("omitted fields are not removals", func(t *testing.T) {
		_, changed, err := svc.Update(ctx, UpdateRequest{ID: c.ID})
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Empty(t, rec.Events())
	})

	t.Run("changed fact value emits exactly one MODIFIED", func(t *testing.T) {
		got, changed, err := svc.Update(ctx, UpdateRequest{
			ID:    c.ID,
			Facts: map[string]string{"cpu.sockets": "4", "memory.gb": "64"},
		})
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, got.UpdatedAt.After(registeredAt))

		evs := rec.Events()
		require.Len(t, evs, 1)
		assert.Equal(t, events.TypeModified, evs[0].Type)
		assert.Equal(t, events.TargetConsumer, evs[0].Target)
		rec.Reset()
	})

	t.Run("removed fact key emits MODIFIED", func(t *testing.T) {
		_, changed, err := svc.Update(ctx, UpdateRequest{
			ID:    c.ID,
			Facts: map[string]string{"cpu.sockets": "4"},
		})
		require.NoError(t, err)
		assert.True(t, changed)
		require.Len(t, rec.Events(), 1)
		rec.Reset()
	})

	t.Run("guest id change emits MODIFIED", func(t *testing.T) {
		_, changed, err := svc.Update(ctx, UpdateRequest{
			ID:       c.ID,
			GuestIDs: []string{"guest-uuid-1"},
		})
		require.NoError(t, err)
		assert.True(t, changed)
		require.Len(t, rec.Events(), 1)
	})
}

func TestGet_DeletedConsumerIsGone(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	svc, err := New(store, events.NewRecorder())
	require.NoError(t, err)

	c := register(t, svc, &Consumer{Owner: id.NewOwnerID(), Name: "shortlived", Type: TypeSystem})
	require.NoError(t, store.Delete(ctx, c.ID))

	_, err = svc.Get(ctx, c.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeGone))

	_, err = svc.Get(ctx, id.NewConsumerID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestResolveHost(t *testing.T) {
	ctx := context.Background()
	owner := id.NewOwnerID()
	svc, _ := newTestService(t)

	host := register(t, svc, &Consumer{
		Owner:    owner,
		Name:     "hypervisor1",
		Type:     TypeSystem,
		GuestIDs: []string{"guest-uuid-9"},
	})

	guest := register(t, svc, &Consumer{
		Owner: owner,
		Name:  "vm9",
		Type:  TypeSystem,
		Facts: map[string]string{FactVirtIsGuest: "true", FactVirtUUID: "guest-uuid-9"},
	})

	t.Run("mapped guest resolves its host", func(t *testing.T) {
		got, ok, err := svc.ResolveHost(ctx, guest)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, host.ID, got.ID)
	})

	t.Run("unmapped guest resolves nothing", func(t *testing.T) {
		stray := register(t, svc, &Consumer{
			Owner: owner,
			Name:  "vm-stray",
			Type:  TypeSystem,
			Facts: map[string]string{FactVirtIsGuest: "true", FactVirtUUID: "nobody-claims-me"},
		})
		_, ok, err := svc.ResolveHost(ctx, stray)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
