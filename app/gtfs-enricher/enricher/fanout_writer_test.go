package enricher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitenricher/business/data/gtfs"
	"github.com/OpenTransitTools/transitenricher/foundation/database"
	"github.com/alicebob/miniredis/v2"
	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func testWriteGroups() ([]*gtfs.EnrichedTripRecord, []*gtfs.VehiclePosition, []*gtfs.ServiceAlert) {
	trips := []*gtfs.EnrichedTripRecord{{
		TripId:          "A",
		EventId:         "tu-1",
		RouteId:         "1",
		StartDate:       "20240301",
		StopPredictions: []gtfs.EnrichedStopPrediction{},
	}}
	positions := []*gtfs.VehiclePosition{{
		TripId:            "A",
		RouteId:           "1",
		PositionTimestamp: 1709298330,
		CurrentStatus:     "STOPPED_AT",
	}}
	routeId := "1"
	alerts := []*gtfs.ServiceAlert{{
		EventId:          "sa-1",
		InformedEntities: []gtfs.InformedEntity{{RouteId: &routeId}},
		ActivePeriods:    []gtfs.ActivePeriod{},
	}}
	return trips, positions, alerts
}

func Test_fanoutWriter_write(t *testing.T) {
	sinkErr := errors.New("sink unavailable")
	tests := []struct {
		name          string
		tripErr       error
		positionErr   error
		alertErr      error
		wantFailed    int
		wantPositions int
		wantAlerts    int
	}{
		{name: "all sinks succeed", wantPositions: 1, wantAlerts: 1},
		{name: "trip sink fails", tripErr: sinkErr, wantFailed: 1, wantPositions: 1, wantAlerts: 1},
		{name: "position sink fails", positionErr: sinkErr, wantFailed: 1, wantAlerts: 1},
		{name: "every sink fails", tripErr: sinkErr, positionErr: sinkErr, alertErr: sinkErr, wantFailed: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			logWriter := makeTestLogWriter()
			metrics := makeMetricsCollector()
			sink := &recordingSink{tripErr: tt.tripErr, positionErr: tt.positionErr, alertErr: tt.alertErr}
			writer := makeFanoutWriter(logWriter.log, metrics, sink, sink, sink)

			trips, positions, alerts := testWriteGroups()
			failed := writer.write(context.Background(), trips, positions, alerts)

			is.Equal(failed, tt.wantFailed)
			is.Equal(sink.writeOrder, []string{tripSinkLabel, positionSinkLabel, alertSinkLabel})
			is.Equal(len(sink.positions), tt.wantPositions)
			is.Equal(len(sink.alerts), tt.wantAlerts)
			is.Equal(testutil.ToFloat64(metrics.sinkWrites.WithLabelValues(positionSinkLabel)),
				float64(tt.wantPositions))
		})
	}
}

func Test_fanoutWriter_skipsEmptyGroups(t *testing.T) {
	is := is.New(t)
	logWriter := makeTestLogWriter()
	sink := &recordingSink{}
	writer := makeFanoutWriter(logWriter.log, makeMetricsCollector(), sink, sink, sink)

	_, positions, _ := testWriteGroups()
	is.Equal(writer.write(context.Background(), nil, positions, nil), 0)
	is.Equal(sink.writeOrder, []string{positionSinkLabel})
}

func Test_fanoutWriter_sqlAndRedisSinks(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	db, err := database.Open(database.Config{Driver: database.SqliteDriver, Name: ":memory:"})
	is.NoErr(err)
	defer func() { _ = db.Close() }()
	is.NoErr(gtfs.CreateSchema(ctx, db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	logWriter := makeTestLogWriter()
	dbSink := &sqlSink{db: db}
	positionSink := &redisPositionSink{rdb: rdb, keyPrefix: "vehicle_position:", ttl: 15 * time.Minute}
	writer := makeFanoutWriter(logWriter.log, makeMetricsCollector(), dbSink, positionSink, dbSink)

	trips, positions, alerts := testWriteGroups()
	is.Equal(writer.write(ctx, trips, positions, alerts), 0)

	trip, err := gtfs.GetEnrichedTrip(ctx, db, "A")
	is.NoErr(err)
	is.Equal(trip.EventId, "tu-1")

	alert, err := gtfs.GetServiceAlert(ctx, db, "sa-1")
	is.NoErr(err)
	is.Equal(*alert.InformedEntities[0].RouteId, "1")

	position, err := gtfs.GetCachedVehiclePosition(ctx, rdb, "vehicle_position:", "A")
	is.NoErr(err)
	is.Equal(position.PositionTimestamp, int64(1709298330))
	is.True(mr.TTL("vehicle_position:A") > 0)

	// positions went to redis, not the database
	sqlPosition, err := gtfs.GetVehiclePosition(ctx, db, "A")
	is.NoErr(err)
	is.True(sqlPosition == nil)
}
