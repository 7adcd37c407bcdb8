package store

import (
	"context"
	"fmt"

	"parking-slots-backend/internal/model"
)

// PoolUsages returns every pool with the number of confirmed bookings holding one of its slots.
func (s *gormStore) PoolUsages(ctx context.Context) ([]PoolUsage, error) {
	var usages []PoolUsage
	err := s.db.WithContext(ctx).Model(&model.SlotPool{}).
		Select("slot_pools.id, slot_pools.space_id, slot_pools.vehicle_type, slot_pools.total_slots, slot_pools.available_slots, COUNT(bookings.id) AS confirmed").
		Joins("LEFT JOIN bookings ON bookings.space_id = slot_pools.space_id AND bookings.vehicle_type = slot_pools.vehicle_type AND bookings.status = ?", model.BookingConfirmed).
		Group("slot_pools.id, slot_pools.space_id, slot_pools.vehicle_type, slot_pools.total_slots, slot_pools.available_slots").
		Order("slot_pools.id").
		Scan(&usages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute pool usage: %w", err)
	}
	return usages, nil
}

// HealPool overwrites a pool's available count, but only if it still equals observed.
func (s *gormStore) HealPool(ctx context.Context, poolID int64, observed, want int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.SlotPool{}).
		Where("id = ? AND available_slots = ?", poolID, observed).
		Update("available_slots", want)
	if res.Error != nil {
		return false, fmt.Errorf("failed to heal pool %d: %w", poolID, res.Error)
	}
	return res.RowsAffected == 1, nil
}
