package model

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"parking-slots-backend/internal/apperr"
)

// ParkingSpace is a physical parking location offering one slot pool per vehicle type.
type ParkingSpace struct {
	ID         string     `gorm:"primaryKey;size:50" json:"id"`
	Name       string     `gorm:"size:100;not null" json:"name"`
	Address    string     `gorm:"size:200;not null" json:"address"`
	Type       SpaceType  `gorm:"size:32;not null" json:"type"`
	Latitude   float64    `gorm:"not null;index:idx_space_coords" json:"latitude"`
	Longitude  float64    `gorm:"not null;index:idx_space_coords" json:"longitude"`
	Active     bool       `gorm:"not null;default:true;index" json:"active"`
	Facilities []string   `gorm:"serializer:json;type:text" json:"facilities"`
	Pools      []SlotPool `gorm:"foreignKey:SpaceID;constraint:OnDelete:CASCADE" json:"vehicleSlots"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Dimensions are the physical limits of a slot in meters.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SlotPool counts the slots a space offers for one vehicle type.
// 0 <= AvailableSlots <= TotalSlots holds at all times; the store only changes
// AvailableSlots through conditional updates.
type SlotPool struct {
	ID             int64       `gorm:"primaryKey" json:"-"`
	SpaceID        string      `gorm:"size:50;not null;uniqueIndex:idx_pool_space_vehicle" json:"-"`
	VehicleType    VehicleType `gorm:"size:16;not null;uniqueIndex:idx_pool_space_vehicle" json:"vehicleType"`
	Position       int         `gorm:"not null" json:"-"`
	TotalSlots     int         `gorm:"not null;check:chk_pool_total,total_slots >= 1" json:"totalSlots"`
	AvailableSlots int         `gorm:"not null;check:chk_pool_available,available_slots >= 0 AND available_slots <= total_slots" json:"availableSlots"`
	PricePerHour   float64     `gorm:"not null" json:"pricePerHour"`
	Dimensions     Dimensions  `gorm:"embedded;embeddedPrefix:dim_" json:"dimensions"`
}

// Pool returns the slot pool for vt, if the space offers one.
func (s *ParkingSpace) Pool(vt VehicleType) (*SlotPool, bool) {
	for i := range s.Pools {
		if s.Pools[i].VehicleType == vt {
			return &s.Pools[i], true
		}
	}
	return nil, false
}

// TotalCapacity sums the total slots of every pool.
func (s *ParkingSpace) TotalCapacity() int {
	total := 0
	for _, p := range s.Pools {
		total += p.TotalSlots
	}
	return total
}

// TotalAvailable sums the persisted available slots of every pool.
func (s *ParkingSpace) TotalAvailable() int {
	total := 0
	for _, p := range s.Pools {
		total += p.AvailableSlots
	}
	return total
}

// DailyPotentialRevenue is the revenue of a fully booked day at list prices.
func (s *ParkingSpace) DailyPotentialRevenue() float64 {
	var total float64
	for _, p := range s.Pools {
		total += float64(p.TotalSlots) * p.PricePerHour * 24
	}
	return total
}

// Validate checks every field of a space that is about to be created.
// It reports all problems at once instead of stopping at the first.
func (s *ParkingSpace) Validate() error {
	v := &apperr.ValidationError{}

	if n := utf8.RuneCountInString(s.Name); n < 2 || n > 100 {
		v.Add("name", "must be between 2 and 100 characters")
	}
	if n := utf8.RuneCountInString(s.Address); n < 5 || n > 200 {
		v.Add("address", "must be between 5 and 200 characters")
	}
	if _, ok := ParseSpaceType(string(s.Type)); !ok {
		v.Add("type", "%q is not a valid parking space type", s.Type)
	}
	if !between(s.Latitude, -90, 90) {
		v.Add("latitude", "must be between -90 and 90 degrees")
	}
	if !between(s.Longitude, -180, 180) {
		v.Add("longitude", "must be between -180 and 180 degrees")
	}
	if utf8.RuneCountInString(s.ID) > 50 {
		v.Add("id", "cannot exceed 50 characters")
	}
	for i, f := range s.Facilities {
		if utf8.RuneCountInString(f) > 50 {
			v.Add(fmt.Sprintf("facilities[%d]", i), "cannot exceed 50 characters")
		}
	}

	if len(s.Pools) == 0 {
		v.Add("vehicleSlots", "at least one vehicle slot pool is required")
	}
	seen := make(map[VehicleType]bool, len(s.Pools))
	for i, p := range s.Pools {
		field := fmt.Sprintf("vehicleSlots[%d]", i)
		if _, ok := ParseVehicleType(string(p.VehicleType)); !ok {
			v.Add(field+".vehicleType", "%q is not a valid vehicle type", p.VehicleType)
		} else if seen[p.VehicleType] {
			v.Add(field+".vehicleType", "duplicate vehicle type %s", p.VehicleType)
		}
		seen[p.VehicleType] = true
		p.validateInto(v, field)
	}

	return v.OrNil()
}

func (p *SlotPool) validateInto(v *apperr.ValidationError, field string) {
	if p.TotalSlots < 1 {
		v.Add(field+".totalSlots", "must be at least 1")
	}
	if !nonNegative(p.PricePerHour) {
		v.Add(field+".pricePerHour", "must be a finite, non-negative number")
	}
	if !nonNegative(p.Dimensions.Length) {
		v.Add(field+".dimensions.length", "must be a finite, non-negative number")
	}
	if !nonNegative(p.Dimensions.Width) {
		v.Add(field+".dimensions.width", "must be a finite, non-negative number")
	}
	if !nonNegative(p.Dimensions.Height) {
		v.Add(field+".dimensions.height", "must be a finite, non-negative number")
	}
}

// between is false for NaN, which fails every comparison.
func between(f, lo, hi float64) bool {
	return f >= lo && f <= hi
}

func nonNegative(f float64) bool {
	return f >= 0 && !math.IsInf(f, 1)
}

// Normalize trims text fields, canonicalises enum spelling and drops empty facilities.
func (s *ParkingSpace) Normalize() {
	s.ID = strings.TrimSpace(s.ID)
	s.Name = strings.TrimSpace(s.Name)
	s.Address = strings.TrimSpace(s.Address)
	if st, ok := ParseSpaceType(string(s.Type)); ok {
		s.Type = st
	}

	facilities := make([]string, 0, len(s.Facilities))
	for _, f := range s.Facilities {
		if f = strings.TrimSpace(f); f != "" {
			facilities = append(facilities, f)
		}
	}
	s.Facilities = facilities

	for i := range s.Pools {
		if vt, ok := ParseVehicleType(string(s.Pools[i].VehicleType)); ok {
			s.Pools[i].VehicleType = vt
		}
		s.Pools[i].Position = i
	}
}
