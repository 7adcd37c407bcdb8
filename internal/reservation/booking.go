package reservation

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/model"
	"parking-slots-backend/internal/notification"
	"parking-slots-backend/internal/store"
)

// Actor is the authenticated caller of a booking operation.
type Actor struct {
	UserID string
	Admin  bool
}

func (a Actor) owns(b *model.Booking) error {
	if a.Admin || b.UserID == a.UserID {
		return nil
	}
	return fmt.Errorf("%w: booking %s belongs to another user", apperr.ErrForbidden, b.ID)
}

// Booking returns one booking visible to the actor.
func (s *Service) Booking(ctx context.Context, actor Actor, id string) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := actor.owns(b); err != nil {
		return nil, err
	}
	return b, nil
}

// CheckoutRequest records a vehicle leaving its slot.
type CheckoutRequest struct {
	OvertimeCharges float64
	PaymentIntentID string
}

// Checkout unparks the vehicle, adds any paid overtime, completes the booking
// and returns its slot. A booking left unparked but still confirmed by an
// interrupted checkout is only completed, and its overtime is not charged again.
func (s *Service) Checkout(ctx context.Context, actor Actor, bookingID string, req CheckoutRequest) (*model.Booking, error) {
	if !(req.OvertimeCharges >= 0) || math.IsInf(req.OvertimeCharges, 1) {
		return nil, apperr.Invalid("overtimeCharges", "must be a finite, non-negative amount")
	}
	b, err := s.Booking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}

	if b.Status == model.BookingConfirmed && b.ParkingStatus == model.Unparked {
		log.Printf("Booking %s already unparked, completing checkout", b.ID)
	} else {
		intentID := strings.TrimSpace(req.PaymentIntentID)
		if err := s.checkOvertimePayment(ctx, b, req.OvertimeCharges, intentID); err != nil {
			return nil, err
		}
		var overtimeIntent *string
		if req.OvertimeCharges > 0 {
			overtimeIntent = &intentID
		}
		b, err = s.store.UnparkBooking(ctx, bookingID, req.OvertimeCharges, overtimeIntent, s.Now())
		if err != nil {
			return nil, err
		}
		log.Printf("Booking %s checked out (overtime %.2f)", b.ID, req.OvertimeCharges)
	}

	res, err := s.Release(ctx, bookingID, model.BookingCompleted)
	if err != nil {
		return nil, err
	}
	return &res.Booking, nil
}

// AllBookings lists bookings across users for operators, newest first.
func (s *Service) AllBookings(ctx context.Context, filter store.BookingFilter) ([]model.Booking, error) {
	if filter.Status != "" && filter.Status != model.BookingConfirmed && !filter.Status.Terminal() {
		return nil, apperr.Invalid("status", "%q is not a booking status", filter.Status)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, apperr.Invalid("limit", "limit and offset must not be negative")
	}
	return s.store.ListBookings(ctx, filter)
}

// Cancel releases a confirmed booking on behalf of its owner or an admin.
func (s *Service) Cancel(ctx context.Context, actor Actor, bookingID string) (*model.Booking, error) {
	if _, err := s.Booking(ctx, actor, bookingID); err != nil {
		return nil, err
	}
	res, err := s.Release(ctx, bookingID, model.BookingCancelled)
	if err != nil {
		return nil, err
	}
	if res.Changed {
		s.notifier.Notify(notification.Notification{
			UserID: res.Booking.UserID,
			Title:  "Booking Cancelled",
			Body:   fmt.Sprintf("Your booking for %s has been cancelled.", res.Booking.BookingDate),
			Data:   map[string]string{"bookingId": res.Booking.ID},
		})
	}
	return &res.Booking, nil
}

// History lists every booking of a user, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]model.Booking, error) {
	return s.store.ListUserBookings(ctx, userID)
}

// ActiveBookings lists the user's confirmed bookings that are still parked and
// overlap today in the service's time zone.
func (s *Service) ActiveBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	now := s.Now().In(s.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	day := model.TimeWindow{Start: dayStart, End: dayStart.AddDate(0, 0, 1)}

	bookings, err := s.store.ListUserBookingsOverlapping(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	active := bookings[:0]
	for _, b := range bookings {
		if b.ParkingStatus == model.Parked {
			active = append(active, b)
		}
	}
	return active, nil
}

// EffectiveAvailability is the pool's total minus the confirmed bookings overlapping
// window, never below zero. It reads only and never touches the persisted counter.
func (s *Service) EffectiveAvailability(ctx context.Context, spaceID string, vt model.VehicleType, window model.TimeWindow) (int, error) {
	if !window.Start.Before(window.End) {
		return 0, apperr.Invalid("window", "start time must be before end time")
	}
	space, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return 0, err
	}
	pool, ok := space.Pool(vt)
	if !ok {
		return 0, fmt.Errorf("%w: %s at %s", apperr.ErrVehicleTypeNotOffered, vt, spaceID)
	}
	return s.effective(ctx, spaceID, pool, window)
}

func (s *Service) effective(ctx context.Context, spaceID string, pool *model.SlotPool, window model.TimeWindow) (int, error) {
	n, err := s.store.CountOverlapping(ctx, spaceID, pool.VehicleType, window)
	if err != nil {
		return 0, err
	}
	avail := pool.TotalSlots - int(n)
	if avail < 0 {
		return 0, nil
	}
	return avail, nil
}

// PoolAvailability is a pool annotated with its effective availability and the
// confirmed windows that hold its slots.
type PoolAvailability struct {
	model.SlotPool
	EffectiveAvailable int                `json:"effectiveAvailable"`
	Upcoming           []model.TimeWindow `json:"upcomingBookings"`
}

// SpaceAvailability is a space with per-pool availability and capacity aggregates.
type SpaceAvailability struct {
	model.ParkingSpace
	Pools                 []PoolAvailability `json:"vehicleSlots"`
	TotalCapacity         int                `json:"totalCapacity"`
	TotalAvailableSlots   int                `json:"totalAvailableSlots"`
	DailyPotentialRevenue float64            `json:"dailyPotentialRevenue"`
}

// Availability decorates space with effective availability for window.
func (s *Service) Availability(ctx context.Context, space *model.ParkingSpace, window model.TimeWindow) (*SpaceAvailability, error) {
	upcoming, err := s.store.ListConfirmedForSpace(ctx, space.ID, window.Start)
	if err != nil {
		return nil, err
	}
	byType := make(map[model.VehicleType][]model.TimeWindow)
	for _, b := range upcoming {
		byType[b.VehicleType] = append(byType[b.VehicleType], b.Window())
	}

	out := &SpaceAvailability{
		ParkingSpace:          *space,
		Pools:                 make([]PoolAvailability, 0, len(space.Pools)),
		TotalCapacity:         space.TotalCapacity(),
		DailyPotentialRevenue: space.DailyPotentialRevenue(),
	}
	for i := range space.Pools {
		p := &space.Pools[i]
		avail, err := s.effective(ctx, space.ID, p, window)
		if err != nil {
			return nil, err
		}
		windows := byType[p.VehicleType]
		if windows == nil {
			windows = []model.TimeWindow{}
		}
		out.Pools = append(out.Pools, PoolAvailability{SlotPool: *p, EffectiveAvailable: avail, Upcoming: windows})
		out.TotalAvailableSlots += avail
	}
	return out, nil
}
