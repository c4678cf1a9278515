package gtfs

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements creates the static reference tables read by the enricher and the tables it writes to.
// Types are kept to those postgres and sqlite both accept.
var schemaStatements = []string{
	"create table if not exists stop (" +
		"stop_id text primary key, " +
		"stop_name text not null)",
	"create table if not exists stop_time (" +
		"trip_id text not null, " +
		"stop_sequence integer not null, " +
		"stop_id text not null, " +
		"arrival_time text not null, " +
		"primary key (trip_id, stop_sequence))",
	"create table if not exists enriched_trip (" +
		"trip_id text primary key, " +
		"event_id text not null, " +
		"ingestion_timestamp text not null, " +
		"route_id text not null, " +
		"start_date text not null, " +
		"service_day_holiday boolean not null, " +
		"stop_predictions text not null, " +
		"live_position text)",
	"create table if not exists vehicle_position (" +
		"trip_id text primary key, " +
		"route_id text not null, " +
		"position_timestamp bigint not null, " +
		"current_status text not null, " +
		"current_stop_sequence integer, " +
		"stop_id text, " +
		"vehicle_id text, " +
		"latitude double precision, " +
		"longitude double precision)",
	"create table if not exists service_alert (" +
		"event_id text primary key, " +
		"ingestion_timestamp text not null, " +
		"cause text, " +
		"effect text, " +
		"header_text text, " +
		"description_text text, " +
		"url text, " +
		"informed_entities text not null, " +
		"active_periods text not null)",
}

// CreateSchema creates any missing tables
func CreateSchema(ctx context.Context, db *sqlx.DB) error {
	for _, statement := range schemaStatements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("unable to create schema: %w", err)
		}
	}
	return nil
}
