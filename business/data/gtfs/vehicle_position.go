package gtfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/jmoiron/sqlx"
)

// DefaultVehicleStatus is used when a vehicle position does not report its current status
const DefaultVehicleStatus = "IN_TRANSIT_TO"

// VehiclePosition is the latest location and status of a vehicle serving a trip
type VehiclePosition struct {
	TripId              string   `db:"trip_id" json:"trip_id"`
	RouteId             string   `db:"route_id" json:"route_id"`
	PositionTimestamp   int64    `db:"position_timestamp" json:"position_timestamp"`
	CurrentStatus       string   `db:"current_status" json:"current_status"`
	CurrentStopSequence *uint32  `db:"current_stop_sequence" json:"current_stop_sequence"`
	StopId              *string  `db:"stop_id" json:"stop_id"`
	VehicleId           *string  `db:"vehicle_id" json:"vehicle_id"`
	Latitude            *float64 `db:"latitude" json:"latitude"`
	Longitude           *float64 `db:"longitude" json:"longitude"`
}

// DecodeVehiclePosition builds VehiclePosition from a VEHICLE_POSITION RawStreamRecord.
// Returns ErrMissingTripId if the position is not assigned to a trip.
// If the feed does not provide a timestamp the record's ingestion timestamp is used.
func DecodeVehiclePosition(record *RawStreamRecord) (*VehiclePosition, error) {
	var pb gtfsrtpb.VehiclePosition
	if err := payloadUnmarshaler.Unmarshal(record.Data, &pb); err != nil {
		return nil, fmt.Errorf("unable to decode vehicle position %s: %w", record.EventId, err)
	}
	tripId := pb.GetTrip().GetTripId()
	if tripId == "" {
		return nil, fmt.Errorf("vehicle position %s: %w", record.EventId, ErrMissingTripId)
	}

	position := VehiclePosition{
		TripId:              tripId,
		RouteId:             pb.GetTrip().GetRouteId(),
		PositionTimestamp:   int64(pb.GetTimestamp()),
		CurrentStatus:       DefaultVehicleStatus,
		CurrentStopSequence: pb.CurrentStopSequence,
		StopId:              pb.StopId,
		VehicleId:           stringPtr(pb.GetVehicle().GetId()),
	}
	if pb.Timestamp == nil {
		position.PositionTimestamp = ingestionUnix(record.IngestionTimestamp)
	}
	if pb.CurrentStatus != nil {
		position.CurrentStatus = pb.GetCurrentStatus().String()
	}
	if p := pb.GetPosition(); p != nil {
		lat := float64(p.GetLatitude())
		lon := float64(p.GetLongitude())
		position.Latitude = &lat
		position.Longitude = &lon
	}
	return &position, nil
}

// RecordVehiclePositions upserts positions into the vehicle_position table, replacing any prior snapshot of each trip
func RecordVehiclePositions(ctx context.Context, db *sqlx.DB, positions []*VehiclePosition) error {
	statementString := "insert into vehicle_position ( " +
		"trip_id, " +
		"route_id, " +
		"position_timestamp, " +
		"current_status, " +
		"current_stop_sequence, " +
		"stop_id, " +
		"vehicle_id, " +
		"latitude, " +
		"longitude) " +
		"values (" +
		":trip_id, " +
		":route_id, " +
		":position_timestamp, " +
		":current_status, " +
		":current_stop_sequence, " +
		":stop_id, " +
		":vehicle_id, " +
		":latitude, " +
		":longitude) " +
		"on conflict (trip_id) do update set " +
		"route_id = excluded.route_id, " +
		"position_timestamp = excluded.position_timestamp, " +
		"current_status = excluded.current_status, " +
		"current_stop_sequence = excluded.current_stop_sequence, " +
		"stop_id = excluded.stop_id, " +
		"vehicle_id = excluded.vehicle_id, " +
		"latitude = excluded.latitude, " +
		"longitude = excluded.longitude"

	return inTransaction(ctx, db, func(tx *sqlx.Tx) error {
		for _, position := range positions {
			if _, err := tx.NamedExecContext(ctx, statementString, position); err != nil {
				return fmt.Errorf("unable to record vehicle position for trip %s: %w", position.TripId, err)
			}
		}
		return nil
	})
}

// GetVehiclePosition retrieves the vehicle_position snapshot for tripId, returns nil if none is present
func GetVehiclePosition(ctx context.Context, db *sqlx.DB, tripId string) (*VehiclePosition, error) {
	query := db.Rebind("select * from vehicle_position where trip_id = ?")
	var position VehiclePosition
	err := db.GetContext(ctx, &position, query, tripId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// inTransaction runs fn in a transaction, rolling back if fn returns an error
func inTransaction(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}
	if err = fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w, rollback failed: %v", err, rollbackErr)
		}
		return err
	}
	return tx.Commit()
}
