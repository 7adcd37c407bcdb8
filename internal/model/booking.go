package model

import (
	"fmt"
	"time"

	"parking-slots-backend/internal/apperr"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Terminal reports whether no further status transition is allowed.
func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// ParkingStatus tracks whether the vehicle is physically in the slot.
type ParkingStatus string

const (
	Parked   ParkingStatus = "parked"
	Unparked ParkingStatus = "unparked"
)

// Booking is a paid, time-windowed claim on one slot of a space's pool.
type Booking struct {
	ID               string        `gorm:"primaryKey;size:36" json:"id"`
	UserID           string        `gorm:"size:64;not null;index:idx_booking_user_created" json:"userId"`
	SpaceID          string        `gorm:"size:50;not null;index:idx_booking_space_vehicle" json:"spaceId"`
	VehicleType      VehicleType   `gorm:"size:16;not null;index:idx_booking_space_vehicle" json:"vehicleType"`
	VehiclePlate     string        `gorm:"size:32;not null" json:"vehiclePlate"`
	BookingDate      string        `gorm:"size:10;not null;index" json:"bookingDate"`
	StartAt          time.Time     `gorm:"not null" json:"startAt"`
	EndAt            time.Time     `gorm:"not null;index" json:"endAt"`
	DurationMinutes  int           `gorm:"not null" json:"durationMinutes"`
	TotalAmount      float64       `gorm:"not null" json:"totalAmount"`
	PaymentIntentID  *string       `gorm:"size:128;uniqueIndex" json:"paymentIntentId,omitempty"`
	OvertimeIntentID *string       `gorm:"size:128;uniqueIndex" json:"overtimeIntentId,omitempty"`
	Status           BookingStatus `gorm:"size:16;not null;index" json:"status"`
	ParkingStatus    ParkingStatus `gorm:"size:16;not null" json:"parkingStatus"`
	ReminderSentAt   *time.Time    `json:"reminderSentAt,omitempty"`
	CreatedAt        time.Time     `gorm:"index:idx_booking_user_created" json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Window returns the booking's reservation window.
func (b *Booking) Window() TimeWindow {
	return TimeWindow{Start: b.StartAt, End: b.EndAt}
}

// CheckRelease decides what releasing the booking into reason means.
// done is true when the booking already sits in reason, so the caller must not
// touch the slot pool again. Moving between different terminal states is rejected.
func (b *Booking) CheckRelease(reason BookingStatus) (done bool, err error) {
	if !reason.Terminal() {
		return false, apperr.Invalid("reason", "must be %q or %q", BookingCompleted, BookingCancelled)
	}
	switch {
	case b.Status == reason:
		return true, nil
	case b.Status.Terminal():
		return false, fmt.Errorf("%w: booking %s is %s, cannot become %s", apperr.ErrInvalidTransition, b.ID, b.Status, reason)
	case b.Status != BookingConfirmed:
		return false, fmt.Errorf("%w: booking %s has unknown status %q", apperr.ErrInvalidTransition, b.ID, b.Status)
	}
	return false, nil
}

// Unpark records the vehicle leaving the slot, adding any overtime charge.
func (b *Booking) Unpark(overtime float64) error {
	if overtime < 0 {
		return apperr.Invalid("overtimeCharges", "must not be negative")
	}
	if b.Status != BookingConfirmed || b.ParkingStatus != Parked {
		return fmt.Errorf("%w: booking %s is %s/%s, cannot unpark", apperr.ErrInvalidTransition, b.ID, b.Status, b.ParkingStatus)
	}
	b.ParkingStatus = Unparked
	b.TotalAmount += overtime
	return nil
}
