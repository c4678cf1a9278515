package gtfs

import (
	"context"
	"fmt"

	"github.com/OpenTransitTools/transitenricher/foundation/database"
	"github.com/jmoiron/sqlx"
)

// StopTime contains a record from a gtfs stop_times.txt file
// represents a scheduled arrival at a stop. ArrivalTime is HH:MM:SS and may exceed 24:00:00 for service past midnight
type StopTime struct {
	TripId       string `db:"trip_id" json:"trip_id"`
	StopSequence uint32 `db:"stop_sequence" json:"stop_sequence"`
	StopId       string `db:"stop_id" json:"stop_id"`
	ArrivalTime  string `db:"arrival_time" json:"arrival_time"`
}

// RecordStopTimes saves stopTimes to database in a single transaction
func RecordStopTimes(ctx context.Context, db *sqlx.DB, stopTimes []*StopTime) error {
	statementString := "insert into stop_time ( " +
		"trip_id, " +
		"stop_sequence, " +
		"stop_id, " +
		"arrival_time) " +
		"values (" +
		":trip_id, " +
		":stop_sequence, " +
		":stop_id, " +
		":arrival_time)"
	return inTransaction(ctx, db, func(tx *sqlx.Tx) error {
		for _, stopTime := range stopTimes {
			if _, err := tx.NamedExecContext(ctx, statementString, stopTime); err != nil {
				return fmt.Errorf("unable to record stop time %s:%d: %w", stopTime.TripId, stopTime.StopSequence, err)
			}
		}
		return nil
	})
}

// GetScheduledArrivals collects scheduled arrival times for tripIds.
// returns map keyed by tripId of maps from stopId to arrival time, trips without stop times are not present
func GetScheduledArrivals(ctx context.Context,
	db *sqlx.DB,
	tripIds []string) (map[string]map[string]string, error) {

	results := make(map[string]map[string]string)
	if len(tripIds) == 0 {
		return results, nil
	}

	statementString := "select * from stop_time where trip_id in (:trip_ids) order by trip_id, stop_sequence"
	rows, err := database.PrepareNamedQueryRowsFromMap(ctx, statementString, db, map[string]interface{}{
		"trip_ids": tripIds,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		st := StopTime{}
		if err = rows.StructScan(&st); err != nil {
			return nil, err
		}
		arrivals, present := results[st.TripId]
		if !present {
			arrivals = make(map[string]string)
			results[st.TripId] = arrivals
		}
		arrivals[st.StopId] = st.ArrivalTime
	}
	return results, rows.Err()
}
