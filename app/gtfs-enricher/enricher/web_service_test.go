package enricher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OpenTransitTools/transitenricher/foundation/database"
	"github.com/matryer/is"
)

func Test_createRouter(t *testing.T) {
	is := is.New(t)
	metrics := makeMetricsCollector()
	metrics.recordsReceived.Add(3)
	router := createRouter(metrics, nil)

	health := httptest.NewRecorder()
	router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/", nil))
	is.Equal(health.Code, http.StatusOK)
	is.Equal(health.Header().Get("Application-Status"), "OK")

	metricsResponse := httptest.NewRecorder()
	router.ServeHTTP(metricsResponse, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	is.Equal(metricsResponse.Code, http.StatusOK)
	body := metricsResponse.Body.String()
	is.True(strings.Contains(body, "enricher_records_received_total 3"))
	is.True(strings.Contains(body, "enricher_delay_alerts_published_total 0"))
}

func Test_createServer(t *testing.T) {
	is := is.New(t)
	srv := createServer(makeMetricsCollector(), nil, 8081)
	is.Equal(srv.Addr, "0.0.0.0:8081")
	is.True(srv.Handler != nil)
}

func Test_defaultHttpHandler_statusCheck(t *testing.T) {
	db, err := database.Open(database.Config{Driver: database.SqliteDriver, Name: ":memory:"})
	if err != nil {
		t.Fatalf("unable to open test database: %v", err)
	}
	closedDb, err := database.Open(database.Config{Driver: database.SqliteDriver, Name: ":memory:"})
	if err != nil {
		t.Fatalf("unable to open test database: %v", err)
	}
	_ = closedDb.Close()
	defer func() { _ = db.Close() }()

	tests := []struct {
		name       string
		check      statusCheck
		wantCode   int
		wantStatus string
	}{
		{name: "database reachable", check: databaseStatusCheck(db), wantCode: http.StatusOK, wantStatus: "OK"},
		{
			name:       "database closed",
			check:      databaseStatusCheck(closedDb),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "DB_UNAVAILABLE",
		},
		{
			name:       "failing check",
			check:      func(context.Context) error { return errors.New("down") },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "DB_UNAVAILABLE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			router := createRouter(makeMetricsCollector(), tt.check)
			response := httptest.NewRecorder()
			router.ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/", nil))
			is.Equal(response.Code, tt.wantCode)
			is.Equal(response.Header().Get("Application-Status"), tt.wantStatus)
		})
	}
}
