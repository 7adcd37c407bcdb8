package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"gorm.io/gorm"

	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	CreateSpace(ctx context.Context, space *model.ParkingSpace) error
	GetSpace(ctx context.Context, id string) (*model.ParkingSpace, error)
	ListSpaces(ctx context.Context) ([]model.ParkingSpace, error)
	SpacesInBound(ctx context.Context, bound orb.Bound, wrapsLon bool) ([]model.ParkingSpace, error)
	DeleteSpace(ctx context.Context, id string) error
	SetSpaceActive(ctx context.Context, id string, active bool) error
	ResizePool(ctx context.Context, spaceID string, vt model.VehicleType, total int) (*model.SlotPool, error)

	ReserveSlot(ctx context.Context, booking *model.Booking) error
	ReleaseSlot(ctx context.Context, bookingID string, reason model.BookingStatus, now time.Time) (*ReleaseResult, error)
	UnparkBooking(ctx context.Context, bookingID string, overtime float64, overtimeIntentID *string, now time.Time) (*model.Booking, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	GetBookingByIntent(ctx context.Context, intentID string) (*model.Booking, error)
	CountOverlapping(ctx context.Context, spaceID string, vt model.VehicleType, window model.TimeWindow) (int64, error)
	ListConfirmedForSpace(ctx context.Context, spaceID string, endsAfter time.Time) ([]model.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]model.Booking, error)
	ListUserBookingsOverlapping(ctx context.Context, userID string, window model.TimeWindow) ([]model.Booking, error)
	ListDueBookings(ctx context.Context, now time.Time) ([]model.Booking, error)
	ListUnremindedStarting(ctx context.Context, window model.TimeWindow) ([]model.Booking, error)
	MarkReminded(ctx context.Context, bookingID string, at time.Time) (bool, error)

	PoolUsages(ctx context.Context) ([]PoolUsage, error)
	HealPool(ctx context.Context, poolID int64, observed, want int) (bool, error)

	ListSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func orderedPools(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

// CreateSpace inserts a space together with its slot pools in one transaction.
func (s *gormStore) CreateSpace(ctx context.Context, space *model.ParkingSpace) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.ParkingSpace{}).Where("id = ?", space.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check space id %s: %w", space.ID, err)
		}
		if n > 0 {
			return fmt.Errorf("%w: parking space %s", apperr.ErrDuplicateID, space.ID)
		}
		if err := tx.Create(space).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: parking space %s", apperr.ErrDuplicateID, space.ID)
			}
			return fmt.Errorf("failed to create parking space %s: %w", space.ID, err)
		}
		return nil
	})
}

// GetSpace loads one space with its pools.
func (s *gormStore) GetSpace(ctx context.Context, id string) (*model.ParkingSpace, error) {
	var space model.ParkingSpace
	err := s.db.WithContext(ctx).Preload("Pools", orderedPools).First(&space, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: parking space %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load parking space %s: %w", id, err)
	}
	return &space, nil
}

// ListSpaces returns every space, newest first.
func (s *gormStore) ListSpaces(ctx context.Context) ([]model.ParkingSpace, error) {
	var spaces []model.ParkingSpace
	if err := s.db.WithContext(ctx).Preload("Pools", orderedPools).Order("created_at DESC").Find(&spaces).Error; err != nil {
		return nil, fmt.Errorf("failed to list parking spaces: %w", err)
	}
	return spaces, nil
}

// SpacesInBound returns active spaces whose coordinates fall inside bound.
// When wrapsLon is set the longitude range crosses the antimeridian and only latitude is filtered.
func (s *gormStore) SpacesInBound(ctx context.Context, bound orb.Bound, wrapsLon bool) ([]model.ParkingSpace, error) {
	q := s.db.WithContext(ctx).Preload("Pools", orderedPools).
		Where("active = ?", true).
		Where("latitude BETWEEN ? AND ?", bound.Min.Lat(), bound.Max.Lat())
	if !wrapsLon {
		q = q.Where("longitude BETWEEN ? AND ?", bound.Min.Lon(), bound.Max.Lon())
	}

	var spaces []model.ParkingSpace
	if err := q.Find(&spaces).Error; err != nil {
		return nil, fmt.Errorf("failed to query spaces in bound: %w", err)
	}
	return spaces, nil
}

// DeleteSpace removes a space and its pools. Bookings are a separate ledger and stay.
func (s *gormStore) DeleteSpace(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("space_id = ?", id).Delete(&model.SlotPool{}).Error; err != nil {
			return fmt.Errorf("failed to delete pools of space %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&model.ParkingSpace{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete parking space %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: parking space %s", apperr.ErrNotFound, id)
		}
		return nil
	})
}

// SetSpaceActive toggles whether a space accepts reservations and shows up in searches.
func (s *gormStore) SetSpaceActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&model.ParkingSpace{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("failed to update parking space %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: parking space %s", apperr.ErrNotFound, id)
	}
	return nil
}

// ResizePool changes a pool's total and shifts its available count by the same delta.
// The update is rejected when it would push the available count below zero, and
// reports ErrConflict when another resize changed the total after it was read.
func (s *gormStore) ResizePool(ctx context.Context, spaceID string, vt model.VehicleType, total int) (*model.SlotPool, error) {
	var pool model.SlotPool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("space_id = ? AND vehicle_type = ?", spaceID, vt).First(&pool).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: space %s has no %s pool", apperr.ErrVehicleTypeNotOffered, spaceID, vt)
			}
			return fmt.Errorf("failed to load pool %s/%s: %w", spaceID, vt, err)
		}

		delta := total - pool.TotalSlots
		res := tx.Model(&model.SlotPool{}).
			Where("id = ? AND total_slots = ? AND available_slots + ? >= 0", pool.ID, pool.TotalSlots, delta).
			Updates(map[string]any{
				"total_slots":     total,
				"available_slots": gorm.Expr("available_slots + ?", delta),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to resize pool %s/%s: %w", spaceID, vt, res.Error)
		}
		if res.RowsAffected == 0 {
			observed := pool.TotalSlots
			if err := tx.First(&pool, pool.ID).Error; err != nil {
				return fmt.Errorf("failed to reload pool %s/%s: %w", spaceID, vt, err)
			}
			if pool.TotalSlots != observed {
				return fmt.Errorf("%w: pool %s/%s was resized to %d", apperr.ErrConflict, spaceID, vt, pool.TotalSlots)
			}
			return apperr.Invalid("totalSlots", "cannot drop below the %d slots currently booked", pool.TotalSlots-pool.AvailableSlots)
		}
		return tx.First(&pool, pool.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &pool, nil
}
