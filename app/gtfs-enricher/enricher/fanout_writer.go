package enricher

import (
	"context"
	logger "log"
	"time"

	"github.com/OpenTransitTools/transitenricher/business/data/gtfs"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// enrichedTripSink stores enriched trip records keyed by trip id
type enrichedTripSink interface {
	RecordEnrichedTrips(ctx context.Context, records []*gtfs.EnrichedTripRecord) error
}

// vehiclePositionSink stores the latest vehicle position keyed by trip id
type vehiclePositionSink interface {
	RecordVehiclePositions(ctx context.Context, positions []*gtfs.VehiclePosition) error
}

// serviceAlertSink stores service alerts keyed by event id
type serviceAlertSink interface {
	RecordServiceAlerts(ctx context.Context, alerts []*gtfs.ServiceAlert) error
}

// sqlSink writes enriched trips, vehicle positions and service alerts to the database
type sqlSink struct {
	db *sqlx.DB
}

func (s *sqlSink) RecordEnrichedTrips(ctx context.Context, records []*gtfs.EnrichedTripRecord) error {
	return gtfs.RecordEnrichedTrips(ctx, s.db, records)
}

func (s *sqlSink) RecordVehiclePositions(ctx context.Context, positions []*gtfs.VehiclePosition) error {
	return gtfs.RecordVehiclePositions(ctx, s.db, positions)
}

func (s *sqlSink) RecordServiceAlerts(ctx context.Context, alerts []*gtfs.ServiceAlert) error {
	return gtfs.RecordServiceAlerts(ctx, s.db, alerts)
}

// redisPositionSink writes vehicle position snapshots to redis
type redisPositionSink struct {
	rdb       redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

func (r *redisPositionSink) RecordVehiclePositions(ctx context.Context, positions []*gtfs.VehiclePosition) error {
	return gtfs.CacheVehiclePositions(ctx, r.rdb, r.keyPrefix, r.ttl, positions)
}

const (
	tripSinkLabel     = "trips"
	positionSinkLabel = "positions"
	alertSinkLabel    = "alerts"
)

// fanoutWriter persists the output of a batch to three independent sinks
type fanoutWriter struct {
	log          *logger.Logger
	metrics      *metricsCollector
	tripSink     enrichedTripSink
	positionSink vehiclePositionSink
	alertSink    serviceAlertSink
}

// makeFanoutWriter builds fanoutWriter
func makeFanoutWriter(log *logger.Logger,
	metrics *metricsCollector,
	tripSink enrichedTripSink,
	positionSink vehiclePositionSink,
	alertSink serviceAlertSink) *fanoutWriter {
	return &fanoutWriter{
		log:          log,
		metrics:      metrics,
		tripSink:     tripSink,
		positionSink: positionSink,
		alertSink:    alertSink,
	}
}

// write persists each non-empty group in the order trips, positions, alerts.
// A failure writing one sink is logged and does not stop the others from being written.
// Returns the number of sinks that failed
func (f *fanoutWriter) write(ctx context.Context,
	trips []*gtfs.EnrichedTripRecord,
	positions []*gtfs.VehiclePosition,
	alerts []*gtfs.ServiceAlert) int {

	failed := 0
	if len(trips) > 0 {
		err := f.tripSink.RecordEnrichedTrips(ctx, trips)
		if !f.recordResult(tripSinkLabel, len(trips), err) {
			failed++
		}
	}
	if len(positions) > 0 {
		err := f.positionSink.RecordVehiclePositions(ctx, positions)
		if !f.recordResult(positionSinkLabel, len(positions), err) {
			failed++
		}
	}
	if len(alerts) > 0 {
		err := f.alertSink.RecordServiceAlerts(ctx, alerts)
		if !f.recordResult(alertSinkLabel, len(alerts), err) {
			failed++
		}
	}
	return failed
}

// recordResult logs and counts the outcome of writing count records to sink, returns true on success
func (f *fanoutWriter) recordResult(sink string, count int, err error) bool {
	if err != nil {
		f.metrics.sinkWriteErrs.WithLabelValues(sink).Inc()
		f.log.Printf("error writing %d records to %s sink: %v", count, sink, err)
		return false
	}
	f.metrics.sinkWrites.WithLabelValues(sink).Add(float64(count))
	f.log.Printf("wrote %d records to %s sink", count, sink)
	return true
}
