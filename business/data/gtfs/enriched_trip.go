package gtfs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// EnrichedStopPrediction is a StopTimeUpdate joined with static schedule data.
// Fields are nil when the feed, the stop lookup, the schedule lookup or the delay calculation had no result
type EnrichedStopPrediction struct {
	StopId                 string  `json:"stop_id"`
	StopName               *string `json:"stop_name"`
	PredictedArrivalTime   *int64  `json:"predicted_arrival_time"`
	ScheduledArrivalTime   *string `json:"scheduled_arrival_time"`
	CalculatedDelaySeconds *int    `json:"calculated_delay_seconds"`
}

// EnrichedTripRecord is a TripUpdate after enrichment, with the trip's vehicle position from the same batch if present
type EnrichedTripRecord struct {
	TripId             string                   `json:"trip_id"`
	EventId            string                   `json:"event_id"`
	IngestionTimestamp string                   `json:"ingestion_timestamp"`
	RouteId            string                   `json:"route_id"`
	StartDate          string                   `json:"start_date"`
	ServiceDayHoliday  bool                     `json:"service_day_holiday"`
	StopPredictions    []EnrichedStopPrediction `json:"stop_predictions"`
	LivePosition       *VehiclePosition         `json:"live_position"`
}

// enrichedTripRow is the enriched_trip table representation of EnrichedTripRecord
type enrichedTripRow struct {
	TripId             string  `db:"trip_id"`
	EventId            string  `db:"event_id"`
	IngestionTimestamp string  `db:"ingestion_timestamp"`
	RouteId            string  `db:"route_id"`
	StartDate          string  `db:"start_date"`
	ServiceDayHoliday  bool    `db:"service_day_holiday"`
	StopPredictions    string  `db:"stop_predictions"`
	LivePosition       *string `db:"live_position"`
}

func makeEnrichedTripRow(record *EnrichedTripRecord) (*enrichedTripRow, error) {
	predictions := record.StopPredictions
	if predictions == nil {
		predictions = []EnrichedStopPrediction{}
	}
	predictionJson, err := json.Marshal(predictions)
	if err != nil {
		return nil, err
	}
	row := enrichedTripRow{
		TripId:             record.TripId,
		EventId:            record.EventId,
		IngestionTimestamp: record.IngestionTimestamp,
		RouteId:            record.RouteId,
		StartDate:          record.StartDate,
		ServiceDayHoliday:  record.ServiceDayHoliday,
		StopPredictions:    string(predictionJson),
	}
	if record.LivePosition != nil {
		positionJson, err := json.Marshal(record.LivePosition)
		if err != nil {
			return nil, err
		}
		livePosition := string(positionJson)
		row.LivePosition = &livePosition
	}
	return &row, nil
}

func (r *enrichedTripRow) enrichedTripRecord() (*EnrichedTripRecord, error) {
	record := EnrichedTripRecord{
		TripId:             r.TripId,
		EventId:            r.EventId,
		IngestionTimestamp: r.IngestionTimestamp,
		RouteId:            r.RouteId,
		StartDate:          r.StartDate,
		ServiceDayHoliday:  r.ServiceDayHoliday,
	}
	if err := json.Unmarshal([]byte(r.StopPredictions), &record.StopPredictions); err != nil {
		return nil, fmt.Errorf("unable to read stop_predictions of trip %s: %w", r.TripId, err)
	}
	if r.LivePosition != nil {
		var position VehiclePosition
		if err := json.Unmarshal([]byte(*r.LivePosition), &position); err != nil {
			return nil, fmt.Errorf("unable to read live_position of trip %s: %w", r.TripId, err)
		}
		record.LivePosition = &position
	}
	return &record, nil
}

// RecordEnrichedTrips upserts records into the enriched_trip table keyed by trip_id.
// A later record for the same trip replaces the earlier one.
func RecordEnrichedTrips(ctx context.Context, db *sqlx.DB, records []*EnrichedTripRecord) error {
	statementString := "insert into enriched_trip ( " +
		"trip_id, " +
		"event_id, " +
		"ingestion_timestamp, " +
		"route_id, " +
		"start_date, " +
		"service_day_holiday, " +
		"stop_predictions, " +
		"live_position) " +
		"values (" +
		":trip_id, " +
		":event_id, " +
		":ingestion_timestamp, " +
		":route_id, " +
		":start_date, " +
		":service_day_holiday, " +
		":stop_predictions, " +
		":live_position) " +
		"on conflict (trip_id) do update set " +
		"event_id = excluded.event_id, " +
		"ingestion_timestamp = excluded.ingestion_timestamp, " +
		"route_id = excluded.route_id, " +
		"start_date = excluded.start_date, " +
		"service_day_holiday = excluded.service_day_holiday, " +
		"stop_predictions = excluded.stop_predictions, " +
		"live_position = excluded.live_position"

	return inTransaction(ctx, db, func(tx *sqlx.Tx) error {
		for _, record := range records {
			row, err := makeEnrichedTripRow(record)
			if err != nil {
				return fmt.Errorf("unable to marshal enriched trip %s: %w", record.TripId, err)
			}
			if _, err = tx.NamedExecContext(ctx, statementString, row); err != nil {
				return fmt.Errorf("unable to record enriched trip %s: %w", record.TripId, err)
			}
		}
		return nil
	})
}

// GetEnrichedTrip retrieves the EnrichedTripRecord stored for tripId, returns nil if none is present
func GetEnrichedTrip(ctx context.Context, db *sqlx.DB, tripId string) (*EnrichedTripRecord, error) {
	query := db.Rebind("select * from enriched_trip where trip_id = ?")
	var row enrichedTripRow
	err := db.GetContext(ctx, &row, query, tripId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.enrichedTripRecord()
}
