// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

// Factory returns an empty, migrated store for one test.
type Factory func(t *testing.T) store.Store

// Run exercises every store.Store method against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"InsertUnits", testInsertUnits},
		{"UpdateUnit", testUpdateUnit},
		{"ProofTokenUnique", testProofTokenUnique},
		{"TransitionUnit", testTransitionUnit},
		{"LockRandomAvailableUnit", testLockRandomAvailableUnit},
		{"ConcurrentAllocation", testConcurrentAllocation},
		{"CountUnitsByStatus", testCountUnitsByStatus},
		{"Reservations", testReservations},
		{"ListExpiredReservations", testListExpiredReservations},
		{"Events", testEvents},
		{"WebhookReceipts", testWebhookReceipts},
		{"Settings", testSettings},
		{"WithTxRollback", testWithTxRollback},
		{"RevokedTokens", testRevokedTokens},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// RunConcurrent exercises row-lock behaviour that needs transactions running
// side by side on separate connections. Backends that serialize every
// transaction on one connection skip it.
func RunConcurrent(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"LockRandomAvailableUnitSkipsLocked", testLockRandomAvailableUnitSkipsLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func seed(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	_, err := st.InsertUnits(context.Background(), ids, now())
	require.NoError(t, err)
}

func testInsertUnits(t *testing.T, st store.Store) {
	ctx := context.Background()

	inserted, err := st.InsertUnits(ctx, []string{"U2", "U1"}, now())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"U1", "U2"}, inserted)

	inserted, err = st.InsertUnits(ctx, []string{"U1", "U3"}, now())
	require.NoError(t, err)
	require.Equal(t, []string{"U3"}, inserted)

	ids, err := st.ListUnitIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"U1", "U2", "U3"}, ids)

	u, err := st.GetUnit(ctx, "U2")
	require.NoError(t, err)
	require.Equal(t, model.UnitAvailable, u.Status)
	require.Zero(t, u.PINAttempts)
	require.Nil(t, u.PINLockedUntil)

	_, err = st.GetUnit(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testUpdateUnit(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st, "U1")

	at := now()
	locked := at.Add(time.Hour)
	u, err := st.GetUnit(ctx, "U1")
	require.NoError(t, err)
	u.Status = model.UnitAssigned
	u.RarityTier = "gold"
	u.RarityNonce = "ab"
	u.RarityProof = []string{"01", "02"}
	u.RarityRoot = "ff"
	u.OrderRef = "1001"
	u.OrderName = "#1001"
	u.BuyerEmail = "buyer@example.com"
	u.PIN = "123456"
	u.PINLast4 = "3456"
	u.PINAttempts = 2
	u.PINLockedUntil = &locked
	u.ProofToken = "tok"
	u.UpdatedAt = at
	require.NoError(t, st.UpdateUnit(ctx, u))

	got, err := st.GetUnit(ctx, "U1")
	require.NoError(t, err)
	require.Equal(t, model.UnitAssigned, got.Status)
	require.Equal(t, "gold", got.RarityTier)
	require.Equal(t, []string{"01", "02"}, got.RarityProof)
	require.Equal(t, "#1001", got.OrderName)
	require.Equal(t, "buyer@example.com", got.BuyerEmail)
	require.Empty(t, got.OwnerEmail)
	require.Equal(t, "123456", got.PIN)
	require.Equal(t, 2, got.PINAttempts)
	require.NotNil(t, got.PINLockedUntil)
	require.True(t, got.PINLockedUntil.Equal(locked))
	require.Nil(t, got.ActivatedAt)
	require.True(t, got.UpdatedAt.Equal(at))

	got.PINLockedUntil = nil
	got.PINAttempts = 0
	require.NoError(t, st.UpdateUnit(ctx, got))
	got, err = st.GetUnit(ctx, "U1")
	require.NoError(t, err)
	require.Nil(t, got.PINLockedUntil)

	err = st.UpdateUnit(ctx, &model.Unit{ID: "missing", Status: model.UnitAvailable, UpdatedAt: at})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testProofTokenUnique(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st, "U1", "U2")

	for _, id := range []string{"U1", "U2"} {
		u, err := st.GetUnit(ctx, id)
		require.NoError(t, err)
		u.ProofToken = "same"
		u.UpdatedAt = now()
		err = st.UpdateUnit(ctx, u)
		if id == "U1" {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, store.ErrDuplicate)
		}
	}
}

func testTransitionUnit(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st, "U1")

	ok, err := st.TransitionUnit(ctx, "U1", model.UnitReserved, model.UnitAvailable, now())
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = st.TransitionUnit(ctx, "U1", model.UnitAvailable, model.UnitReserved, now())
	require.NoError(t, err)
	require.True(t, ok)

	u, err := st.GetUnit(ctx, "U1")
	require.NoError(t, err)
	require.Equal(t, model.UnitReserved, u.Status)
}

func testLockRandomAvailableUnit(t *testing.T, st store.Store) {
	ctx := context.Background()

	err := st.WithTx(ctx, func(ctx context.Context) error {
		_, err := st.LockRandomAvailableUnit(ctx)
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	seed(t, st, "U1", "U2")
	_, err = st.TransitionUnit(ctx, "U1", model.UnitAvailable, model.UnitReserved, now())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		var got *model.Unit
		err := st.WithTx(ctx, func(ctx context.Context) error {
			var err error
			got, err = st.LockRandomAvailableUnit(ctx)
			return err
		})
		require.NoError(t, err)
		require.Equal(t, "U2", got.ID)
	}
}

func testLockRandomAvailableUnitSkipsLocked(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st, "U1")

	locked := make(chan string, 1)
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- st.WithTx(ctx, func(ctx context.Context) error {
			u, err := st.LockRandomAvailableUnit(ctx)
			if err != nil {
				close(locked)
				return err
			}
			locked <- u.ID
			<-release
			return nil
		})
	}()

	id, ok := <-locked
	require.True(t, ok, "holder failed to lock the only unit")
	require.Equal(t, "U1", id)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	err := st.WithTx(waitCtx, func(ctx context.Context) error {
		_, err := st.LockRandomAvailableUnit(ctx)
		return err
	})
	elapsed := time.Since(start)
	close(release)

	require.ErrorIs(t, err, store.ErrNotFound, "a locked row must be skipped, not waited on")
	require.Less(t, elapsed, 2*time.Second)
	require.NoError(t, <-holder)

	// Once the holder commits without changing the unit it is lockable again.
	err = st.WithTx(ctx, func(ctx context.Context) error {
		_, err := st.LockRandomAvailableUnit(ctx)
		return err
	})
	require.NoError(t, err)
}

// testConcurrentAllocation runs more allocating transactions than there are
// units and checks that every unit is granted at most once.
func testConcurrentAllocation(t *testing.T, st store.Store) {
	const units, callers = 6, 24
	ctx := context.Background()
	ids := make([]string, units)
	for i := range ids {
		ids[i] = fmt.Sprintf("U%02d", i+1)
	}
	seed(t, st, ids...)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  = make(map[string]int)
		empty    int
		failures []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var unitID string
			err := st.WithTx(ctx, func(ctx context.Context) error {
				u, err := st.LockRandomAvailableUnit(ctx)
				if err != nil {
					return err
				}
				ok, err := st.TransitionUnit(ctx, u.ID, model.UnitAvailable, model.UnitReserved, now())
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("unit %s left available state under lock", u.ID)
				}
				if err := st.CreateReservation(ctx, reservation(u.ID, now().Add(time.Minute))); err != nil {
					return err
				}
				unitID = u.ID
				return nil
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted[unitID]++
			case errors.Is(err, store.ErrNotFound):
				empty++
			default:
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	require.Len(t, granted, units)
	for id, n := range granted {
		require.Equal(t, 1, n, "unit %s granted more than once", id)
	}
	require.Equal(t, callers-units, empty)

	counts, err := st.CountUnitsByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, units, counts[model.UnitReserved])
	require.Zero(t, counts[model.UnitAvailable])
}

func testCountUnitsByStatus(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st, "U1", "U2", "U3")
	_, err := st.TransitionUnit(ctx, "U3", model.UnitAvailable, model.UnitReserved, now())
	require.NoError(t, err)

	counts, err := st.CountUnitsByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, map[model.UnitStatus]int{
		model.UnitAvailable: 2,
		model.UnitReserved:  1,
	}, counts)
}

func reservation(unitID string, expiresAt time.Time) model.Reservation {
	at := now()
	return model.Reservation{
		Token:     uuid.NewString(),
		UnitID:    unitID,
		Status:    model.ReservationActive,
		ExpiresAt: expiresAt,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func testReservations(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st, "U1")

	r := reservation("U1", now().Add(20*time.Minute))
	require.NoError(t, st.CreateReservation(ctx, r))

	err := st.CreateReservation(ctx, reservation("U1", now().Add(time.Minute)))
	require.ErrorIs(t, err, store.ErrDuplicate)

	got, err := st.GetReservationForUpdate(ctx, r.Token)
	require.NoError(t, err)
	require.Equal(t, "U1", got.UnitID)
	require.Equal(t, model.ReservationActive, got.Status)
	require.True(t, got.ExpiresAt.Equal(r.ExpiresAt))

	require.NoError(t, st.UpdateReservationStatus(ctx, r.Token, model.ReservationExpired, now()))
	got, err = st.GetReservationForUpdate(ctx, r.Token)
	require.NoError(t, err)
	require.Equal(t, model.ReservationExpired, got.Status)

	// The unit may be reserved again once the previous claim is no longer active.
	require.NoError(t, st.CreateReservation(ctx, reservation("U1", now().Add(time.Minute))))

	_, err = st.GetReservationForUpdate(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	err = st.UpdateReservationStatus(ctx, "missing", model.ReservationExpired, now())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testListExpiredReservations(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st, "U1", "U2", "U3", "U4")

	base := now()
	older := reservation("U1", base.Add(-2*time.Minute))
	newer := reservation("U2", base.Add(-time.Minute))
	edge := reservation("U3", base)
	live := reservation("U4", base.Add(time.Minute))
	for _, r := range []model.Reservation{newer, live, edge, older} {
		require.NoError(t, st.CreateReservation(ctx, r))
	}

	var got []model.Reservation
	err := st.WithTx(ctx, func(ctx context.Context) error {
		var err error
		got, err = st.ListExpiredReservations(ctx, base, 10)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, older.Token, got[0].Token)
	require.Equal(t, newer.Token, got[1].Token)
	require.Equal(t, edge.Token, got[2].Token)

	err = st.WithTx(ctx, func(ctx context.Context) error {
		var err error
		got, err = st.ListExpiredReservations(ctx, base, 1)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, older.Token, got[0].Token)

	require.NoError(t, st.UpdateReservationStatus(ctx, older.Token, model.ReservationConfirmed, base))
	err = st.WithTx(ctx, func(ctx context.Context) error {
		var err error
		got, err = st.ListExpiredReservations(ctx, base, 10)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func testEvents(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st, "U1")

	at := now()
	types := []model.EventType{model.EventReserved, model.EventAssigned, model.EventPINGenerated}
	for _, typ := range types {
		require.NoError(t, st.AppendEvent(ctx, model.Event{
			ID:        uuid.NewString(),
			UnitID:    "U1",
			Type:      typ,
			Actor:     model.ActorSystem,
			Payload:   map[string]any{"order_ref": "1001", "attempts": 3},
			CreatedAt: at,
		}))
	}
	require.NoError(t, st.AppendEvent(ctx, model.Event{
		ID: uuid.NewString(), UnitID: "U1", Type: model.EventActivated, Actor: "owner@example.com", CreatedAt: at.Add(time.Second),
	}))

	events, err := st.ListUnitEvents(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, typ := range types {
		require.Equal(t, typ, events[i].Type)
	}
	require.Equal(t, "1001", events[0].Payload["order_ref"])
	require.EqualValues(t, 3, events[0].Payload["attempts"])
	require.Equal(t, model.EventActivated, events[3].Type)
	require.Equal(t, "owner@example.com", events[3].Actor)
	require.Empty(t, events[3].Payload)

	err = st.AppendEvent(ctx, model.Event{ID: uuid.NewString(), UnitID: "missing", Type: model.EventReserved, Actor: model.ActorSystem, CreatedAt: at})
	require.Error(t, err)
}

func testWebhookReceipts(t *testing.T, st store.Store) {
	ctx := context.Background()
	r := model.WebhookReceipt{DeliveryID: "d-1", Topic: "orders/paid", ReceivedAt: now()}

	fresh, err := st.RecordWebhookReceipt(ctx, r)
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = st.RecordWebhookReceipt(ctx, r)
	require.NoError(t, err)
	require.False(t, fresh)
}

func testSettings(t *testing.T, st store.Store) {
	ctx := context.Background()

	_, ok, err := st.GetSetting(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.PutSetting(ctx, "k", "v1"))
	require.NoError(t, st.PutSetting(ctx, "k", "v2"))
	v, ok, err := st.GetSetting(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", v)

	v, err = st.InsertSettingIfAbsent(ctx, "once", "first")
	require.NoError(t, err)
	require.Equal(t, "first", v)
	v, err = st.InsertSettingIfAbsent(ctx, "once", "second")
	require.NoError(t, err)
	require.Equal(t, "first", v)
}

func testWithTxRollback(t *testing.T, st store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(ctx context.Context) error {
		if err := st.PutSetting(ctx, "k", "v"); err != nil {
			return err
		}
		// Nested calls join the outer transaction.
		if err := st.WithTx(ctx, func(ctx context.Context) error {
			return st.PutSetting(ctx, "nested", "v")
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	for _, key := range []string{"k", "nested"} {
		_, ok, err := st.GetSetting(ctx, key)
		require.NoError(t, err)
		require.False(t, ok, "setting %s survived rollback", key)
	}
}

func testRevokedTokens(t *testing.T, st store.Store) {
	ctx := context.Background()

	revoked, err := st.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, st.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)))
	require.NoError(t, st.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)))

	revoked, err = st.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)
}
