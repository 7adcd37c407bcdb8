package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"parking-slots-backend/config"
	"parking-slots-backend/internal/auth"
	"parking-slots-backend/internal/db"
	"parking-slots-backend/internal/model"
	"parking-slots-backend/internal/notification"
	"parking-slots-backend/internal/payment"
	"parking-slots-backend/internal/reconciler"
	"parking-slots-backend/internal/registry"
	"parking-slots-backend/internal/reservation"
	"parking-slots-backend/internal/store"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type discardNotifier struct{}

func (discardNotifier) Notify(notification.Notification) {}

type testServer struct {
	router   *gin.Engine
	store    store.Store
	payments *payment.MemoryGateway
	verifier *auth.Verifier
}

func newTestServer(t *testing.T, push *webpush.Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Init(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	s := store.NewGormStore(gdb)
	payments := payment.NewMemoryGateway(false)
	clock := reservation.WithClock(func() time.Time { return testNow })
	bookings := reservation.NewService(s, payments, discardNotifier{}, time.UTC, "inr", clock)
	rec := reconciler.New(config.ReconcilerConfig{
		Enabled:      true,
		Schedule:     "@every 1m",
		ReminderLead: 10 * time.Minute,
		Location:     time.UTC,
	}, s, bookings, discardNotifier{}, reconciler.WithClock(func() time.Time { return testNow }))

	verifier := auth.NewVerifier("api-test-secret")
	h := NewHandler(registry.New(s), bookings, rec, s, push)
	router := NewRouter(config.ServerConfig{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTLSeconds: 60,
	}, h, verifier)

	return &testServer{router: router, store: s, payments: payments, verifier: verifier}
}

func (ts *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := ts.verifier.Issue(userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends body as JSON with an optional bearer token.
func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(auth.AuthorizationHeaderKey, "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func newSpaceBody() map[string]any {
	return map[string]any{
		"name":       "Brigade Road Parking",
		"address":    "7 Brigade Road, Bengaluru",
		"type":       "Covered",
		"latitude":   12.9716,
		"longitude":  77.6070,
		"facilities": []string{"CCTV"},
		"vehicleSlots": []map[string]any{
			{"vehicleType": "Car", "totalSlots": 2, "pricePerHour": 40},
			{"vehicleType": "Bicycle", "totalSlots": 3, "pricePerHour": 0},
		},
	}
}

func (ts *testServer) createSpace(t *testing.T) model.ParkingSpace {
	t.Helper()
	w := ts.do(http.MethodPost, "/api/spaces", ts.token(t, "admin-1", auth.RoleAdmin), newSpaceBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[model.ParkingSpace](t, w)
}
