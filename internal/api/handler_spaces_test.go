package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-slots-backend/internal/auth"
	"parking-slots-backend/internal/model"
)

type fieldsResponse struct {
	Error  string `json:"error"`
	Fields []struct {
		Field string `json:"field"`
	} `json:"fields"`
}

func fieldNames(r fieldsResponse) []string {
	out := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		out = append(out, f.Field)
	}
	return out
}

func TestCreateSpace_RequiresAdmin(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/spaces", "", newSpaceBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/api/spaces", ts.token(t, "u-1", auth.RoleUser), newSpaceBody())
	assert.Equal(t, http.StatusForbidden, w.Code)

	sp := ts.createSpace(t)
	assert.True(t, strings.HasPrefix(sp.ID, "PS-"))
	assert.True(t, sp.Active)
	require.Len(t, sp.Pools, 2)
	assert.Equal(t, model.VehicleCar, sp.Pools[0].VehicleType)
	assert.Equal(t, 2, sp.Pools[0].AvailableSlots)
	assert.Equal(t, 3, sp.Pools[1].AvailableSlots)
}

func TestCreateSpace_ValidationAndDuplicates(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.token(t, "admin-1", auth.RoleAdmin)

	body := newSpaceBody()
	body["latitude"] = 91
	body["vehicleSlots"] = []map[string]any{
		{"vehicleType": "Car", "totalSlots": 0, "pricePerHour": 10},
		{"vehicleType": "car", "totalSlots": 1, "pricePerHour": 10},
	}
	w := ts.do(http.MethodPost, "/api/spaces", admin, body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[fieldsResponse](t, w)
	assert.Equal(t, "validation failed", resp.Error)
	assert.ElementsMatch(t, []string{"latitude", "vehicleSlots[0].totalSlots", "vehicleSlots[1].vehicleType"}, fieldNames(resp))

	body = newSpaceBody()
	body["id"] = "PS-FIXED"
	w = ts.do(http.MethodPost, "/api/spaces", admin, body)
	require.Equal(t, http.StatusCreated, w.Code)
	w = ts.do(http.MethodPost, "/api/spaces", admin, body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(http.MethodPost, "/api/spaces", admin, "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndGetSpace(t *testing.T) {
	ts := newTestServer(t, nil)
	sp := ts.createSpace(t)

	w := ts.do(http.MethodGet, "/api/spaces", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	spaces := decode[[]model.ParkingSpace](t, w)
	require.Len(t, spaces, 1)
	assert.Equal(t, sp.ID, spaces[0].ID)

	w = ts.do(http.MethodGet, "/api/spaces/"+sp.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]any](t, w)
	assert.EqualValues(t, 5, got["totalCapacity"])
	assert.EqualValues(t, 5, got["totalAvailableSlots"])
	assert.EqualValues(t, 2*40*24, got["dailyPotentialRevenue"])

	w = ts.do(http.MethodGet, "/api/spaces/PS-MISSING", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type nearbyResponse struct {
	ID             string  `json:"id"`
	DistanceMeters float64 `json:"distanceMeters"`
	Pools          []struct {
		VehicleType        model.VehicleType `json:"vehicleType"`
		EffectiveAvailable int               `json:"effectiveAvailable"`
	} `json:"vehicleSlots"`
}

func TestNearbySpaces(t *testing.T) {
	ts := newTestServer(t, nil)
	sp := ts.createSpace(t)

	w := ts.do(http.MethodGet, "/api/spaces/nearby?lat=12.9716&lng=77.6070&radius=1000", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	found := decode[[]nearbyResponse](t, w)
	require.Len(t, found, 1)
	assert.Equal(t, sp.ID, found[0].ID)
	assert.InDelta(t, 0, found[0].DistanceMeters, 1)
	require.Len(t, found[0].Pools, 2)
	assert.Equal(t, 2, found[0].Pools[0].EffectiveAvailable)

	w = ts.do(http.MethodGet, "/api/spaces/nearby?lat=0&lng=0&radius=1000", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]nearbyResponse](t, w))

	w = ts.do(http.MethodGet, "/api/spaces/nearby?lat=12.9716&lng=77.6070", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]nearbyResponse](t, w), 1, "radius defaults to 5 km")

	w = ts.do(http.MethodGet, "/api/spaces/nearby?lng=abc&radius=-1", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.ElementsMatch(t, []string{"lat", "lng"}, fieldNames(decode[fieldsResponse](t, w)))

	w = ts.do(http.MethodGet, "/api/spaces/nearby?lat=91&lng=0&radius=-1", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.ElementsMatch(t, []string{"lat", "radius"}, fieldNames(decode[fieldsResponse](t, w)))
}

func TestGetAvailability(t *testing.T) {
	ts := newTestServer(t, nil)
	sp := ts.createSpace(t)
	base := "/api/spaces/" + sp.ID + "/availability"

	w := ts.do(http.MethodGet, base+"?vehicleType=car&date=2026-10-18&startTime=13:00&endTime=14:00", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode[map[string]any](t, w)["effectiveAvailable"])

	w = ts.do(http.MethodGet, base+"?vehicleType=bus", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(http.MethodGet, base+"?vehicleType=tank", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, base+"?date=2026-10-18&startTime=15:00&endTime=14:00", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, base+"?date=18/10/2026&startTime=9am", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.ElementsMatch(t, []string{"bookingDate", "startTime", "endTime"}, fieldNames(decode[fieldsResponse](t, w)))

	w = ts.do(http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5, decode[map[string]any](t, w)["totalAvailableSlots"])
}

func TestAdminSpaceOperations(t *testing.T) {
	ts := newTestServer(t, nil)
	sp := ts.createSpace(t)
	admin := ts.token(t, "admin-1", auth.RoleAdmin)
	user := ts.token(t, "u-1", auth.RoleUser)

	w := ts.do(http.MethodPatch, "/api/spaces/"+sp.ID+"/pools/car", admin, map[string]any{"totalSlots": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pool := decode[model.SlotPool](t, w)
	assert.Equal(t, 4, pool.TotalSlots)
	assert.Equal(t, 4, pool.AvailableSlots)

	w = ts.do(http.MethodPatch, "/api/spaces/"+sp.ID+"/pools/car", admin, map[string]any{"totalSlots": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(http.MethodPatch, "/api/spaces/"+sp.ID+"/pools/truck", admin, map[string]any{"totalSlots": 2})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = ts.do(http.MethodPatch, "/api/spaces/"+sp.ID+"/pools/car", user, map[string]any{"totalSlots": 9})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPatch, "/api/spaces/"+sp.ID+"/active", admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "active is required")
	w = ts.do(http.MethodPatch, "/api/spaces/"+sp.ID+"/active", admin, map[string]any{"active": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/spaces/nearby?lat=12.9716&lng=77.6070&radius=1000", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]nearbyResponse](t, w), "inactive spaces are not listed nearby")

	w = ts.do(http.MethodDelete, "/api/spaces/"+sp.ID, user, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(http.MethodDelete, "/api/spaces/"+sp.ID, admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(http.MethodDelete, "/api/spaces/"+sp.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
