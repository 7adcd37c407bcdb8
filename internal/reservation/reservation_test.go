package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-slots-backend/config"
	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/db"
	"parking-slots-backend/internal/model"
	"parking-slots-backend/internal/notification"
	"parking-slots-backend/internal/payment"
	"parking-slots-backend/internal/registry"
	"parking-slots-backend/internal/store"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (r *recordingNotifier) Notify(n notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Title)
	}
	return out
}

type fixture struct {
	store    store.Store
	registry *registry.Registry
	svc      *Service
	payments *payment.MemoryGateway
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Init(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	s := store.NewGormStore(gdb)
	f := &fixture{
		store:    s,
		registry: registry.New(s),
		payments: payment.NewMemoryGateway(false),
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(s, f.payments, f.notifier, time.UTC, "inr", WithClock(func() time.Time { return testNow }))
	return f
}

func (f *fixture) space(t *testing.T, carSlots int, carPrice float64) *model.ParkingSpace {
	t.Helper()
	sp := &model.ParkingSpace{
		Name:      "Test Parking",
		Address:   "42 Test Avenue",
		Type:      model.SpaceCovered,
		Latitude:  12.97,
		Longitude: 77.59,
		Pools: []model.SlotPool{
			{VehicleType: model.VehicleCar, TotalSlots: carSlots, PricePerHour: carPrice},
			{VehicleType: model.VehicleBicycle, TotalSlots: 4, PricePerHour: 0},
		},
	}
	require.NoError(t, f.registry.Create(context.Background(), sp))
	return sp
}

func (f *fixture) persisted(t *testing.T, spaceID string, vt model.VehicleType) int {
	t.Helper()
	sp, err := f.store.GetSpace(context.Background(), spaceID)
	require.NoError(t, err)
	p, ok := sp.Pool(vt)
	require.True(t, ok)
	return p.AvailableSlots
}

func window(from, to time.Duration) model.TimeWindow {
	return model.TimeWindow{Start: testNow.Add(from), End: testNow.Add(to)}
}

func request(spaceID string, w model.TimeWindow) Request {
	return Request{
		UserID:       "u-1",
		SpaceID:      spaceID,
		VehicleType:  model.VehicleCar,
		VehiclePlate: "ka01ab1234",
		Window:       w,
	}
}

// The sqlite fixture runs on a single connection, so the callers here are
// serialised by database/sql rather than racing inside the database. The
// conditional decrement that guards against oversell under real concurrency
// is pinned by TestGormStore_ReserveSlot in the store package.
func TestReserve_ConcurrentRequestsNeverOversell(t *testing.T) {
	f := newFixture(t)
	const slots, callers = 3, 12
	sp := f.space(t, slots, 40)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		exhausted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request(sp.ID, window(-time.Hour, time.Hour))
			req.UserID = fmt.Sprintf("u-%d", i)
			_, err := f.svc.Reserve(context.Background(), req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrCapacityExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, slots, successes)
	assert.Equal(t, callers-slots, exhausted)
	assert.Equal(t, 0, f.persisted(t, sp.ID, model.VehicleCar))
}

func TestReserve_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 5, 40)
	assert.Equal(t, 5, f.persisted(t, sp.ID, model.VehicleCar))

	for i := 0; i < 3; i++ {
		b, err := f.svc.Reserve(ctx, request(sp.ID, window(-30*time.Minute, 90*time.Minute)))
		require.NoError(t, err)
		assert.Equal(t, model.BookingConfirmed, b.Status)
		assert.Equal(t, model.Parked, b.ParkingStatus)
		assert.Equal(t, "KA01AB1234", b.VehiclePlate)
		assert.Equal(t, 120, b.DurationMinutes)
		assert.InDelta(t, 80, b.TotalAmount, 0.001)
		assert.Equal(t, "2026-10-18", b.BookingDate)
	}

	avail, err := f.svc.EffectiveAvailability(ctx, sp.ID, model.VehicleCar, model.Instant(testNow))
	require.NoError(t, err)
	assert.Equal(t, 2, avail)
	assert.Equal(t, 2, f.persisted(t, sp.ID, model.VehicleCar))

	avail, err = f.svc.EffectiveAvailability(ctx, sp.ID, model.VehicleCar, window(2*time.Hour, 3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, avail, "a later window does not overlap the bookings")

	assert.Equal(t, []string{"Booking Confirmed", "Booking Confirmed", "Booking Confirmed"}, f.notifier.titles())
}

func TestReserve_OverlapScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 1, 40)

	a, err := f.svc.Reserve(ctx, request(sp.ID, window(time.Hour, 3*time.Hour)))
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, request(sp.ID, window(2*time.Hour, 4*time.Hour)))
	assert.ErrorIs(t, err, apperr.ErrCapacityExhausted)

	_, err = f.svc.Release(ctx, a.ID, model.BookingCompleted)
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, request(sp.ID, window(2*time.Hour, 4*time.Hour)))
	assert.NoError(t, err)
}

func TestReserve_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 1, 40)

	req := request(sp.ID, window(0, time.Hour))
	req.VehicleType = model.VehicleBus
	_, err := f.svc.Reserve(ctx, req)
	assert.ErrorIs(t, err, apperr.ErrVehicleTypeNotOffered)

	_, err = f.svc.Reserve(ctx, request("PS-NOPE", window(0, time.Hour)))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, f.registry.SetActive(ctx, sp.ID, false))
	_, err = f.svc.Reserve(ctx, request(sp.ID, window(0, time.Hour)))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, f.registry.SetActive(ctx, sp.ID, true))

	var verr *apperr.ValidationError
	_, err = f.svc.Reserve(ctx, request(sp.ID, window(time.Hour, 0)))
	assert.ErrorAs(t, err, &verr)
	_, err = f.svc.Reserve(ctx, request(sp.ID, window(-2*time.Hour, -time.Hour)))
	assert.ErrorAs(t, err, &verr)

	assert.Equal(t, 1, f.persisted(t, sp.ID, model.VehicleCar))
}

func TestRelease_TwiceIncrementsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 2, 40)

	b, err := f.svc.Reserve(ctx, request(sp.ID, window(0, time.Hour)))
	require.NoError(t, err)
	require.Equal(t, 1, f.persisted(t, sp.ID, model.VehicleCar))

	res, err := f.svc.Release(ctx, b.ID, model.BookingCompleted)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	res, err = f.svc.Release(ctx, b.ID, model.BookingCompleted)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 2, f.persisted(t, sp.ID, model.VehicleCar))

	_, err = f.svc.Release(ctx, b.ID, model.BookingCancelled)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.Release(ctx, "missing", model.BookingCompleted)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReserveWithPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 2, 40)
	req := request(sp.ID, window(0, 2*time.Hour))

	pq, err := f.svc.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)
	assert.InDelta(t, 80, pq.TotalAmount, 0.001)
	assert.NotEmpty(t, pq.ClientSecret)

	_, err = f.svc.ReserveWithPayment(ctx, req, pq.PaymentIntentID)
	assert.ErrorIs(t, err, apperr.ErrPaymentNotSucceeded)
	assert.Equal(t, 2, f.persisted(t, sp.ID, model.VehicleCar))

	f.payments.Capture(pq.PaymentIntentID)
	first, err := f.svc.ReserveWithPayment(ctx, req, pq.PaymentIntentID)
	require.NoError(t, err)
	require.NotNil(t, first.PaymentIntentID)
	assert.Equal(t, pq.PaymentIntentID, *first.PaymentIntentID)

	again, err := f.svc.ReserveWithPayment(ctx, req, pq.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.persisted(t, sp.ID, model.VehicleCar), "confirming twice reserves once")

	longer := request(sp.ID, window(0, 5*time.Hour))
	small, err := f.svc.CreatePaymentIntent(ctx, request(sp.ID, window(0, time.Hour)))
	require.NoError(t, err)
	f.payments.Capture(small.PaymentIntentID)
	var verr *apperr.ValidationError
	_, err = f.svc.ReserveWithPayment(ctx, longer, small.PaymentIntentID)
	assert.ErrorAs(t, err, &verr)

	_, err = f.svc.ReserveWithPayment(ctx, req, "")
	assert.ErrorAs(t, err, &verr)

	f.payments.Err = assert.AnError
	_, err = f.svc.ReserveWithPayment(ctx, req, "pi_other")
	assert.ErrorIs(t, err, apperr.ErrUpstreamPayment)
}

func TestReserveWithPayment_FreePool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 2, 40)
	req := request(sp.ID, window(0, time.Hour))
	req.VehicleType = model.VehicleBicycle

	var verr *apperr.ValidationError
	_, err := f.svc.CreatePaymentIntent(ctx, req)
	assert.ErrorAs(t, err, &verr)

	b, err := f.svc.ReserveWithPayment(ctx, req, "")
	require.NoError(t, err)
	assert.Nil(t, b.PaymentIntentID)
	assert.Zero(t, b.TotalAmount)
}

func TestCheckoutAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 2, 40)
	owner := Actor{UserID: "u-1"}

	b, err := f.svc.Reserve(ctx, request(sp.ID, window(-time.Hour, time.Hour)))
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, Actor{UserID: "u-2"}, b.ID, CheckoutRequest{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	var verr *apperr.ValidationError
	_, err = f.svc.Checkout(ctx, owner, b.ID, CheckoutRequest{OvertimeCharges: 20})
	assert.ErrorAs(t, err, &verr)

	oq, err := f.svc.CreateOvertimeIntent(ctx, owner, b.ID, 20)
	require.NoError(t, err)
	f.payments.Capture(oq.PaymentIntentID)
	done, err := f.svc.Checkout(ctx, owner, b.ID, CheckoutRequest{OvertimeCharges: 20, PaymentIntentID: oq.PaymentIntentID})
	require.NoError(t, err)
	assert.Equal(t, model.BookingCompleted, done.Status)
	assert.Equal(t, model.Unparked, done.ParkingStatus)
	assert.InDelta(t, 100, done.TotalAmount, 0.001)
	require.NotNil(t, done.OvertimeIntentID)
	assert.Equal(t, oq.PaymentIntentID, *done.OvertimeIntentID)
	assert.Equal(t, 2, f.persisted(t, sp.ID, model.VehicleCar))

	_, err = f.svc.Checkout(ctx, owner, b.ID, CheckoutRequest{})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	c, err := f.svc.Reserve(ctx, request(sp.ID, window(time.Hour, 2*time.Hour)))
	require.NoError(t, err)
	cancelled, err := f.svc.Cancel(ctx, Actor{UserID: "admin", Admin: true}, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, cancelled.Status)
	assert.Equal(t, 2, f.persisted(t, sp.ID, model.VehicleCar))
	assert.Contains(t, f.notifier.titles(), "Booking Cancelled")
}

func TestCheckout_OvertimePaymentIsBoundToOneBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 3, 40)
	owner := Actor{UserID: "u-1"}
	var verr *apperr.ValidationError

	req := request(sp.ID, window(-time.Hour, time.Hour))
	pq, err := f.svc.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)
	f.payments.Capture(pq.PaymentIntentID)
	paid, err := f.svc.ReserveWithPayment(ctx, req, pq.PaymentIntentID)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, owner, paid.ID, CheckoutRequest{OvertimeCharges: 20, PaymentIntentID: pq.PaymentIntentID})
	assert.ErrorAs(t, err, &verr, "the reservation payment cannot settle overtime")

	unbound, err := f.payments.CreateIntent(ctx, 2000, "inr", nil)
	require.NoError(t, err)
	f.payments.Capture(unbound.ID)
	_, err = f.svc.Checkout(ctx, owner, paid.ID, CheckoutRequest{OvertimeCharges: 20, PaymentIntentID: unbound.ID})
	assert.ErrorAs(t, err, &verr, "an intent without a booking binding is rejected")

	other, err := f.svc.Reserve(ctx, request(sp.ID, window(-time.Hour, time.Hour)))
	require.NoError(t, err)
	oq, err := f.svc.CreateOvertimeIntent(ctx, owner, paid.ID, 20)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, owner, paid.ID, CheckoutRequest{OvertimeCharges: 20, PaymentIntentID: oq.PaymentIntentID})
	assert.ErrorIs(t, err, apperr.ErrPaymentNotSucceeded)
	f.payments.Capture(oq.PaymentIntentID)

	_, err = f.svc.Checkout(ctx, owner, paid.ID, CheckoutRequest{OvertimeCharges: 25, PaymentIntentID: oq.PaymentIntentID})
	assert.ErrorAs(t, err, &verr, "the intent covers 20, not 25")

	done, err := f.svc.Checkout(ctx, owner, paid.ID, CheckoutRequest{OvertimeCharges: 20, PaymentIntentID: oq.PaymentIntentID})
	require.NoError(t, err)
	assert.Equal(t, model.BookingCompleted, done.Status)

	_, err = f.svc.Checkout(ctx, owner, other.ID, CheckoutRequest{OvertimeCharges: 20, PaymentIntentID: oq.PaymentIntentID})
	assert.ErrorAs(t, err, &verr, "a consumed overtime intent cannot pay for another booking")
	stillParked, err := f.svc.Booking(ctx, owner, other.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Parked, stillParked.ParkingStatus)

	_, err = f.svc.CreateOvertimeIntent(ctx, owner, paid.ID, 5)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "a completed booking has no overtime left to pay")
	_, err = f.svc.CreateOvertimeIntent(ctx, Actor{UserID: "u-2"}, other.ID, 5)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestCheckout_CompletesAfterInterruptedCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 2, 40)
	owner := Actor{UserID: "u-1"}

	b, err := f.svc.Reserve(ctx, request(sp.ID, window(-time.Hour, time.Hour)))
	require.NoError(t, err)
	require.Equal(t, 1, f.persisted(t, sp.ID, model.VehicleCar))

	// The unpark committed but the release never ran.
	_, err = f.store.UnparkBooking(ctx, b.ID, 0, nil, testNow)
	require.NoError(t, err)

	done, err := f.svc.Checkout(ctx, owner, b.ID, CheckoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.BookingCompleted, done.Status)
	assert.Equal(t, model.Unparked, done.ParkingStatus)
	assert.InDelta(t, 80, done.TotalAmount, 0.001)
	assert.Equal(t, 2, f.persisted(t, sp.ID, model.VehicleCar))

	_, err = f.svc.Checkout(ctx, owner, b.ID, CheckoutRequest{})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestAllBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 5, 40)

	mine, err := f.svc.Reserve(ctx, request(sp.ID, window(0, time.Hour)))
	require.NoError(t, err)
	other := request(sp.ID, window(0, time.Hour))
	other.UserID = "u-2"
	theirs, err := f.svc.Reserve(ctx, other)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, Actor{UserID: "u-2"}, theirs.ID)
	require.NoError(t, err)

	all, err := f.svc.AllBookings(ctx, store.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	confirmed, err := f.svc.AllBookings(ctx, store.BookingFilter{Status: model.BookingConfirmed, SpaceID: sp.ID})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, mine.ID, confirmed[0].ID)

	page, err := f.svc.AllBookings(ctx, store.BookingFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	var verr *apperr.ValidationError
	_, err = f.svc.AllBookings(ctx, store.BookingFilter{Status: "parked"})
	assert.ErrorAs(t, err, &verr)
	_, err = f.svc.AllBookings(ctx, store.BookingFilter{Limit: -1})
	assert.ErrorAs(t, err, &verr)
}

func TestHistoryAndActiveBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 5, 40)

	today, err := f.svc.Reserve(ctx, request(sp.ID, window(-time.Hour, time.Hour)))
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, request(sp.ID, window(24*time.Hour, 25*time.Hour)))
	require.NoError(t, err)
	other := request(sp.ID, window(0, time.Hour))
	other.UserID = "u-2"
	_, err = f.svc.Reserve(ctx, other)
	require.NoError(t, err)

	history, err := f.svc.History(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	active, err := f.svc.ActiveBookings(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, today.ID, active[0].ID)
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sp := f.space(t, 3, 40)

	_, err := f.svc.Reserve(ctx, request(sp.ID, window(-time.Hour, time.Hour)))
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, request(sp.ID, window(2*time.Hour, 3*time.Hour)))
	require.NoError(t, err)

	loaded, err := f.store.GetSpace(ctx, sp.ID)
	require.NoError(t, err)
	av, err := f.svc.Availability(ctx, loaded, model.Instant(testNow))
	require.NoError(t, err)

	require.Len(t, av.Pools, 2)
	car := av.Pools[0]
	assert.Equal(t, model.VehicleCar, car.VehicleType)
	assert.Equal(t, 2, car.EffectiveAvailable)
	assert.Equal(t, 1, car.AvailableSlots)
	assert.Len(t, car.Upcoming, 2)
	assert.Empty(t, av.Pools[1].Upcoming)
	assert.Equal(t, 7, av.TotalCapacity)
	assert.Equal(t, 6, av.TotalAvailableSlots)
	assert.InDelta(t, 3*40*24, av.DailyPotentialRevenue, 0.001)
}
