package store

import "parking-slots-backend/internal/model"

// PoolUsage compares a slot pool's persisted counter with the bookings that hold it.
type PoolUsage struct {
	PoolID         int64             `gorm:"column:id"`
	SpaceID        string            `gorm:"column:space_id"`
	VehicleType    model.VehicleType `gorm:"column:vehicle_type"`
	TotalSlots     int               `gorm:"column:total_slots"`
	AvailableSlots int               `gorm:"column:available_slots"`
	Confirmed      int               `gorm:"column:confirmed"`
}

// Expected is the available count implied by the confirmed bookings, clamped to [0, total].
func (u PoolUsage) Expected() int {
	want := u.TotalSlots - u.Confirmed
	if want < 0 {
		return 0
	}
	return want
}

// Drifted reports whether the persisted counter disagrees with the bookings.
func (u PoolUsage) Drifted() bool {
	return u.AvailableSlots != u.Expected()
}

// ReleaseResult describes what a release did.
type ReleaseResult struct {
	Booking model.Booking
	// Changed is false when the booking was already in the requested terminal state.
	Changed bool
	// PoolMissing is true when the booking's space or pool no longer exists, so no slot was returned.
	PoolMissing bool
}

// BookingFilter narrows an admin booking listing. Zero fields match everything.
type BookingFilter struct {
	UserID  string
	SpaceID string
	Status  model.BookingStatus
	// PaidOnly keeps bookings that carry a payment intent.
	PaidOnly bool
	Limit    int
	Offset   int
}
