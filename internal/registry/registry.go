// Package registry owns the catalog of parking spaces and their slot pools.
package registry

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/google/uuid"

	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/geo"
	"parking-slots-backend/internal/model"
	"parking-slots-backend/internal/store"
)

// Registry validates and persists parking spaces.
type Registry struct {
	store store.Store
}

// New creates a registry on top of the given store.
func New(s store.Store) *Registry {
	return &Registry{store: s}
}

// NearbySpace is a space found by a proximity search.
type NearbySpace struct {
	model.ParkingSpace
	DistanceMeters float64 `json:"distanceMeters"`
}

// Create validates a new space, fills every pool to capacity and stores it.
// A human-readable id is generated when none is supplied.
func (r *Registry) Create(ctx context.Context, space *model.ParkingSpace) error {
	space.Normalize()
	if err := space.Validate(); err != nil {
		return err
	}
	if space.ID == "" {
		space.ID = NewSpaceID()
	}
	space.Active = true
	for i := range space.Pools {
		space.Pools[i].ID = 0
		space.Pools[i].SpaceID = space.ID
		space.Pools[i].AvailableSlots = space.Pools[i].TotalSlots
	}

	if err := r.store.CreateSpace(ctx, space); err != nil {
		return err
	}
	log.Printf("Created parking space %s (%s) with %d pools", space.ID, space.Name, len(space.Pools))
	return nil
}

// NewSpaceID returns an id such as "PS-1A2B3C4D".
func NewSpaceID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "PS-" + strings.ToUpper(raw[:8])
}

// Get returns one space.
func (r *Registry) Get(ctx context.Context, id string) (*model.ParkingSpace, error) {
	return r.store.GetSpace(ctx, id)
}

// List returns every space, active or not.
func (r *Registry) List(ctx context.Context) ([]model.ParkingSpace, error) {
	return r.store.ListSpaces(ctx)
}

// FindNearby returns active spaces within radius meters of (lat, lon).
// The store narrows candidates with a bounding box; the great-circle distance decides.
func (r *Registry) FindNearby(ctx context.Context, lat, lon, radius float64) ([]NearbySpace, error) {
	v := &apperr.ValidationError{}
	if !(lat >= -90 && lat <= 90) {
		v.Add("lat", "must be between -90 and 90 degrees")
	}
	if !(lon >= -180 && lon <= 180) {
		v.Add("lng", "must be between -180 and 180 degrees")
	}
	if !(radius > 0) || math.IsInf(radius, 1) {
		v.Add("radius", "must be a positive number of meters")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	center := geo.Point(lat, lon)
	bound, wraps := geo.SearchBound(center, radius)
	candidates, err := r.store.SpacesInBound(ctx, bound, wraps)
	if err != nil {
		return nil, err
	}

	result := make([]NearbySpace, 0, len(candidates))
	for _, c := range candidates {
		d := geo.Distance(center, geo.Point(c.Latitude, c.Longitude))
		if d <= radius {
			result = append(result, NearbySpace{ParkingSpace: c, DistanceMeters: d})
		}
	}
	return result, nil
}

// Delete removes a space. A second delete of the same id reports NotFound.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteSpace(ctx, id); err != nil {
		return err
	}
	log.Printf("Deleted parking space %s", id)
	return nil
}

// SetActive opens or closes a space for new reservations.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) error {
	if err := r.store.SetSpaceActive(ctx, id, active); err != nil {
		return err
	}
	log.Printf("Parking space %s active=%t", id, active)
	return nil
}

// ResizePool changes the total slots of one pool. Existing reservations keep their slots.
func (r *Registry) ResizePool(ctx context.Context, spaceID string, vt model.VehicleType, total int) (*model.SlotPool, error) {
	if total < 1 {
		return nil, apperr.Invalid("totalSlots", "must be at least 1")
	}
	pool, err := r.store.ResizePool(ctx, spaceID, vt, total)
	if err != nil {
		return nil, fmt.Errorf("resize %s pool of %s: %w", vt, spaceID, err)
	}
	log.Printf("Resized %s pool of %s to %d slots (%d available)", vt, spaceID, pool.TotalSlots, pool.AvailableSlots)
	return pool, nil
}
