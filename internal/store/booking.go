package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/model"
)

// ReserveSlot takes one slot from the booking's pool and records the booking.
// Both writes share a transaction, so a failed insert gives the slot back.
func (s *gormStore) ReserveSlot(ctx context.Context, booking *model.Booking) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.SlotPool{}).
			Where("space_id = ? AND vehicle_type = ? AND available_slots > 0", booking.SpaceID, booking.VehicleType).
			Update("available_slots", gorm.Expr("available_slots - 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to decrement pool %s/%s: %w", booking.SpaceID, booking.VehicleType, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: space %s, vehicle type %s", apperr.ErrCapacityExhausted, booking.SpaceID, booking.VehicleType)
		}

		if err := tx.Create(booking).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: booking %s", apperr.ErrDuplicateID, booking.ID)
			}
			return fmt.Errorf("failed to create booking %s: %w", booking.ID, err)
		}
		return nil
	})
}

// ReleaseSlot moves a confirmed booking into reason and returns its slot to the pool.
// The status flip is conditional on the booking still being confirmed, so concurrent or
// repeated releases increment the pool at most once.
func (s *gormStore) ReleaseSlot(ctx context.Context, bookingID string, reason model.BookingStatus, now time.Time) (*ReleaseResult, error) {
	var result ReleaseResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := findBooking(tx, bookingID)
		if err != nil {
			return err
		}
		done, err := b.CheckRelease(reason)
		if err != nil {
			return err
		}
		result.Booking = *b
		if done {
			return nil
		}

		flip := tx.Model(&model.Booking{}).
			Where("id = ? AND status = ?", bookingID, model.BookingConfirmed).
			Updates(map[string]any{"status": reason, "updated_at": now})
		if flip.Error != nil {
			return fmt.Errorf("failed to update booking %s: %w", bookingID, flip.Error)
		}
		if flip.RowsAffected == 0 {
			// Another release committed between the read and the flip.
			b, err := findBooking(tx, bookingID)
			if err != nil {
				return err
			}
			result.Booking = *b
			_, err = b.CheckRelease(reason)
			return err
		}

		inc := tx.Model(&model.SlotPool{}).
			Where("space_id = ? AND vehicle_type = ? AND available_slots < total_slots", b.SpaceID, b.VehicleType).
			Update("available_slots", gorm.Expr("available_slots + 1"))
		if inc.Error != nil {
			return fmt.Errorf("failed to increment pool %s/%s: %w", b.SpaceID, b.VehicleType, inc.Error)
		}
		if inc.RowsAffected == 0 {
			var pools int64
			if err := tx.Model(&model.SlotPool{}).Where("space_id = ? AND vehicle_type = ?", b.SpaceID, b.VehicleType).Count(&pools).Error; err != nil {
				return fmt.Errorf("failed to look up pool %s/%s: %w", b.SpaceID, b.VehicleType, err)
			}
			if pools > 0 {
				return fmt.Errorf("%w: space %s, vehicle type %s, booking %s", apperr.ErrOverRelease, b.SpaceID, b.VehicleType, b.ID)
			}
			log.Printf("Booking %s: pool %s/%s no longer exists, no slot returned", b.ID, b.SpaceID, b.VehicleType)
			result.PoolMissing = true
		}

		result.Booking.Status = reason
		result.Booking.UpdatedAt = now
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UnparkBooking marks a parked, confirmed booking as unparked and adds the overtime charge.
// An overtime intent can settle only one booking; reusing it reports ErrDuplicateID.
func (s *gormStore) UnparkBooking(ctx context.Context, bookingID string, overtime float64, overtimeIntentID *string, now time.Time) (*model.Booking, error) {
	var out *model.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := findBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if err := b.Unpark(overtime); err != nil {
			return err
		}

		res := tx.Model(&model.Booking{}).
			Where("id = ? AND status = ? AND parking_status = ?", bookingID, model.BookingConfirmed, model.Parked).
			Updates(map[string]any{
				"parking_status":     model.Unparked,
				"total_amount":       gorm.Expr("total_amount + ?", overtime),
				"overtime_intent_id": overtimeIntentID,
				"updated_at":         now,
			})
		if res.Error != nil {
			if overtimeIntentID != nil && isDuplicateKey(res.Error) {
				return fmt.Errorf("%w: overtime payment %s was already used", apperr.ErrDuplicateID, *overtimeIntentID)
			}
			return fmt.Errorf("failed to unpark booking %s: %w", bookingID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: booking %s was changed concurrently", apperr.ErrInvalidTransition, bookingID)
		}
		b.OvertimeIntentID = overtimeIntentID
		b.UpdatedAt = now
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func findBooking(db *gorm.DB, id string) (*model.Booking, error) {
	var b model.Booking
	err := db.First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: booking %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking %s: %w", id, err)
	}
	return &b, nil
}

// GetBooking loads one booking.
func (s *gormStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return findBooking(s.db.WithContext(ctx), id)
}

// GetBookingByIntent finds the booking created for a payment intent.
func (s *gormStore) GetBookingByIntent(ctx context.Context, intentID string) (*model.Booking, error) {
	var b model.Booking
	err := s.db.WithContext(ctx).First(&b, "payment_intent_id = ?", intentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: booking for payment %s", apperr.ErrNotFound, intentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking for payment %s: %w", intentID, err)
	}
	return &b, nil
}

// CountOverlapping counts confirmed bookings of one pool whose window overlaps window.
func (s *gormStore) CountOverlapping(ctx context.Context, spaceID string, vt model.VehicleType, window model.TimeWindow) (int64, error) {
	w := window.UTC()
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Booking{}).
		Where("space_id = ? AND vehicle_type = ? AND status = ?", spaceID, vt, model.BookingConfirmed).
		Where("start_at < ? AND end_at > ?", w.End, w.Start).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count bookings for %s/%s: %w", spaceID, vt, err)
	}
	return n, nil
}

// ListConfirmedForSpace returns the space's confirmed bookings that end after endsAfter, soonest first.
func (s *gormStore) ListConfirmedForSpace(ctx context.Context, spaceID string, endsAfter time.Time) ([]model.Booking, error) {
	var bookings []model.Booking
	err := s.db.WithContext(ctx).
		Where("space_id = ? AND status = ? AND end_at > ?", spaceID, model.BookingConfirmed, endsAfter.UTC()).
		Order("start_at").
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings for space %s: %w", spaceID, err)
	}
	return bookings, nil
}

// ListUserBookings returns every booking of a user, newest first.
func (s *gormStore) ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	var bookings []model.Booking
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&bookings).Error; err != nil {
		return nil, fmt.Errorf("failed to list bookings for user %s: %w", userID, err)
	}
	return bookings, nil
}

// ListBookings returns bookings across all users matching filter, newest first.
func (s *gormStore) ListBookings(ctx context.Context, filter BookingFilter) ([]model.Booking, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.SpaceID != "" {
		q = q.Where("space_id = ?", filter.SpaceID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.PaidOnly {
		q = q.Where("(payment_intent_id IS NOT NULL OR overtime_intent_id IS NOT NULL)")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var bookings []model.Booking
	if err := q.Find(&bookings).Error; err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ListUserBookingsOverlapping returns a user's confirmed bookings overlapping window, soonest first.
func (s *gormStore) ListUserBookingsOverlapping(ctx context.Context, userID string, window model.TimeWindow) ([]model.Booking, error) {
	w := window.UTC()
	var bookings []model.Booking
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.BookingConfirmed).
		Where("start_at < ? AND end_at > ?", w.End, w.Start).
		Order("start_at").
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active bookings for user %s: %w", userID, err)
	}
	return bookings, nil
}

// ListDueBookings returns confirmed bookings whose window has ended by now.
func (s *gormStore) ListDueBookings(ctx context.Context, now time.Time) ([]model.Booking, error) {
	var bookings []model.Booking
	err := s.db.WithContext(ctx).
		Where("status = ? AND end_at <= ?", model.BookingConfirmed, now.UTC()).
		Order("end_at").
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due bookings: %w", err)
	}
	return bookings, nil
}

// ListUnremindedStarting returns confirmed bookings starting inside window that have not been reminded.
func (s *gormStore) ListUnremindedStarting(ctx context.Context, window model.TimeWindow) ([]model.Booking, error) {
	w := window.UTC()
	var bookings []model.Booking
	err := s.db.WithContext(ctx).
		Where("status = ? AND reminder_sent_at IS NULL", model.BookingConfirmed).
		Where("start_at >= ? AND start_at < ?", w.Start, w.End).
		Order("start_at").
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming bookings: %w", err)
	}
	return bookings, nil
}

// MarkReminded stamps the reminder time once. It returns false if another run got there first.
func (s *gormStore) MarkReminded(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Booking{}).
		Where("id = ? AND reminder_sent_at IS NULL", bookingID).
		Update("reminder_sent_at", at.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark booking %s reminded: %w", bookingID, res.Error)
	}
	return res.RowsAffected == 1, nil
}
