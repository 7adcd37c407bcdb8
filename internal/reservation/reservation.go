// Package reservation implements the reserve and release protocol for slot pools.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/model"
	"parking-slots-backend/internal/notification"
	"parking-slots-backend/internal/parse"
	"parking-slots-backend/internal/payment"
	"parking-slots-backend/internal/store"
)

// Service coordinates slot pools, bookings and payments.
type Service struct {
	store    store.Store
	payments payment.Gateway
	notifier notification.Notifier
	loc      *time.Location
	currency string
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the wall clock, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a reservation service. loc is the zone booking dates and
// wall-clock times are interpreted in.
func NewService(s store.Store, payments payment.Gateway, notifier notification.Notifier, loc *time.Location, currency string, opts ...Option) *Service {
	svc := &Service{
		store:    s,
		payments: payments,
		notifier: notifier,
		loc:      loc,
		currency: currency,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Location returns the zone bookings are interpreted in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Now returns the service clock truncated to whole seconds, in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// Request asks for one slot of a space's pool during a window.
type Request struct {
	UserID       string
	SpaceID      string
	VehicleType  model.VehicleType
	VehiclePlate string
	Window       model.TimeWindow
}

func (r *Request) validate(now time.Time) error {
	v := &apperr.ValidationError{}
	if strings.TrimSpace(r.UserID) == "" {
		v.Add("userId", "is required")
	}
	if strings.TrimSpace(r.SpaceID) == "" {
		v.Add("spaceId", "is required")
	}
	if vt, ok := model.ParseVehicleType(string(r.VehicleType)); ok {
		r.VehicleType = vt
	} else {
		v.Add("vehicleType", "%q is not a valid vehicle type", r.VehicleType)
	}
	r.VehiclePlate = strings.ToUpper(strings.TrimSpace(r.VehiclePlate))
	if n := utf8.RuneCountInString(r.VehiclePlate); n == 0 || n > 32 {
		v.Add("vehiclePlate", "must be between 1 and 32 characters")
	}
	if !r.Window.Start.Before(r.Window.End) {
		v.Add("window", "start time must be before end time")
	} else if !r.Window.End.After(now) {
		v.Add("window", "has already ended")
	}
	return v.OrNil()
}

// Quote is the price of a request, computed from the pool's hourly rate.
type Quote struct {
	SpaceID         string            `json:"spaceId"`
	VehicleType     model.VehicleType `json:"vehicleType"`
	Window          model.TimeWindow  `json:"window"`
	DurationMinutes int               `json:"durationMinutes"`
	PricePerHour    float64           `json:"pricePerHour"`
	TotalAmount     float64           `json:"totalAmount"`
	Currency        string            `json:"currency"`
}

// AmountMinor is the total in the currency's minor unit.
func (q *Quote) AmountMinor() int64 {
	return payment.ToMinorUnits(q.TotalAmount)
}

func (s *Service) prepare(ctx context.Context, req *Request) (*model.ParkingSpace, *Quote, error) {
	if err := req.validate(s.Now()); err != nil {
		return nil, nil, err
	}

	space, err := s.store.GetSpace(ctx, req.SpaceID)
	if err != nil {
		return nil, nil, err
	}
	if !space.Active {
		return nil, nil, fmt.Errorf("%w: parking space %s is not active", apperr.ErrNotFound, req.SpaceID)
	}
	pool, ok := space.Pool(req.VehicleType)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s at %s", apperr.ErrVehicleTypeNotOffered, req.VehicleType, req.SpaceID)
	}

	w := req.Window.UTC()
	w.Start = w.Start.Truncate(time.Second)
	w.End = w.End.Truncate(time.Second)
	minutes := int(math.Ceil(w.Duration().Minutes()))
	total := math.Round(pool.PricePerHour*float64(minutes)/60*100) / 100

	return space, &Quote{
		SpaceID:         space.ID,
		VehicleType:     req.VehicleType,
		Window:          w,
		DurationMinutes: minutes,
		PricePerHour:    pool.PricePerHour,
		TotalAmount:     total,
		Currency:        s.currency,
	}, nil
}

// Quote prices a request without reserving anything.
func (s *Service) Quote(ctx context.Context, req Request) (*Quote, error) {
	_, q, err := s.prepare(ctx, &req)
	return q, err
}

// Reserve takes one slot for the request and records a confirmed, parked booking.
// It fails with NotFound, VehicleTypeNotOffered or CapacityExhausted; on any failure the
// pool is left as it was.
func (s *Service) Reserve(ctx context.Context, req Request) (*model.Booking, error) {
	return s.reserve(ctx, req, nil)
}

func (s *Service) reserve(ctx context.Context, req Request, intentID *string) (*model.Booking, error) {
	space, q, err := s.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	b := &model.Booking{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		SpaceID:         space.ID,
		VehicleType:     req.VehicleType,
		VehiclePlate:    req.VehiclePlate,
		BookingDate:     parse.FormatDate(q.Window.Start, s.loc),
		StartAt:         q.Window.Start,
		EndAt:           q.Window.End,
		DurationMinutes: q.DurationMinutes,
		TotalAmount:     q.TotalAmount,
		PaymentIntentID: intentID,
		Status:          model.BookingConfirmed,
		ParkingStatus:   model.Parked,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.ReserveSlot(ctx, b); err != nil {
		return nil, err
	}

	log.Printf("Reserved %s slot at %s for user %s: booking %s [%s, %s)",
		b.VehicleType, b.SpaceID, b.UserID, b.ID, b.StartAt.Format(time.RFC3339), b.EndAt.Format(time.RFC3339))
	s.notifier.Notify(notification.Notification{
		UserID: b.UserID,
		Title:  "Booking Confirmed",
		Body:   fmt.Sprintf("Your %s slot at %s on %s is confirmed.", b.VehicleType, space.Name, b.BookingDate),
		Data:   map[string]string{"bookingId": b.ID},
	})
	return b, nil
}

// Release moves a booking into a terminal state and returns its slot to the pool.
// Releasing a booking that is already in reason is a successful no-op; the result's
// Changed field tells the two apart.
func (s *Service) Release(ctx context.Context, bookingID string, reason model.BookingStatus) (*store.ReleaseResult, error) {
	res, err := s.store.ReleaseSlot(ctx, bookingID, reason, s.Now())
	if err != nil {
		if errors.Is(err, apperr.ErrOverRelease) {
			log.Printf("ERROR: over-release of booking %s: %v", bookingID, err)
		}
		return nil, err
	}
	if res.Changed {
		log.Printf("Released booking %s (%s/%s) as %s", res.Booking.ID, res.Booking.SpaceID, res.Booking.VehicleType, reason)
	}
	return res, nil
}
