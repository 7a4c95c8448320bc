package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/modavn/storefront/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newGaugeMetrics(t *testing.T) (*metrics.AppMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	gauge, err := meter.Int64Gauge("active_users_count")
	require.NoError(t, err)
	return &metrics.AppMetrics{ActiveUsersCount: gauge}, reader
}

func collectActiveUserIDs(t *testing.T, reader *sdkmetric.ManualReader) []int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var ids []int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "active_users_count" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok)
			for _, dp := range gauge.DataPoints {
				if uid, ok := dp.Attributes.Value(attribute.Key("user_id")); ok {
					ids = append(ids, uid.AsInt64())
				}
			}
		}
	}
	return ids
}

// The active-user gauge must fire for requests routed through the
// api subrouter, for both identity sources.
func TestAuthMiddlewareRecordsActiveUser(t *testing.T) {
	t.Run("query param", func(t *testing.T) {
		m, reader := newGaugeMetrics(t)

		var sawUserID int64
		router := mux.NewRouter()
		api := router.PathPrefix("/api/v1").Subrouter()
		api.Use(AuthMiddleware("", m))
		api.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
			sawUserID, _ = UserID(r.Context())
		}).Methods("GET")

		req := httptest.NewRequest("GET", "/api/v1/orders?user_id=7", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, int64(7), sawUserID)
		assert.Equal(t, []int64{7}, collectActiveUserIDs(t, reader))
	})

	t.Run("bearer token", func(t *testing.T) {
		m, reader := newGaugeMetrics(t)
		secret := "test-secret"
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "42"}).
			SignedString([]byte(secret))
		require.NoError(t, err)

		var sawUserID int64
		router := mux.NewRouter()
		api := router.PathPrefix("/api/v1").Subrouter()
		api.Use(AuthMiddleware(secret, m))
		api.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
			sawUserID, _ = UserID(r.Context())
		}).Methods("GET")

		req := httptest.NewRequest("GET", "/api/v1/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, int64(42), sawUserID)
		assert.Equal(t, []int64{42}, collectActiveUserIDs(t, reader))
	})

	t.Run("anonymous request records nothing", func(t *testing.T) {
		m, reader := newGaugeMetrics(t)

		router := mux.NewRouter()
		api := router.PathPrefix("/api/v1").Subrouter()
		api.Use(AuthMiddleware("", m))
		api.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {}).Methods("GET")

		req := httptest.NewRequest("GET", "/api/v1/products", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)

		assert.Empty(t, collectActiveUserIDs(t, reader))
	})

	t.Run("invalid token rejected", func(t *testing.T) {
		m, _ := newGaugeMetrics(t)

		router := mux.NewRouter()
		api := router.PathPrefix("/api/v1").Subrouter()
		api.Use(AuthMiddleware("test-secret", m))
		api.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {}).Methods("GET")

		req := httptest.NewRequest("GET", "/api/v1/orders", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
