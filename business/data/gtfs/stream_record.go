package gtfs

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the gtfs-realtime entity carried by a RawStreamRecord
type EventType string

const (
	TripUpdateEvent      EventType = "TRIP_UPDATE"
	VehiclePositionEvent EventType = "VEHICLE_POSITION"
	ServiceAlertEvent    EventType = "SERVICE_ALERT"
)

// RawStreamRecord is the envelope published by the feed fetcher for each gtfs-realtime entity.
// Data holds the protobuf json rendering of the entity and is decoded according to EventType.
type RawStreamRecord struct {
	EventType          EventType       `json:"event_type"`
	IngestionTimestamp string          `json:"ingestion_timestamp"`
	EventId            string          `json:"event_id"`
	Data               json.RawMessage `json:"data"`
}

// ParseRawStreamRecord unmarshals a RawStreamRecord from json and checks that it can be classified
func ParseRawStreamRecord(payload []byte) (*RawStreamRecord, error) {
	var record RawStreamRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unable to parse stream record: %w", err)
	}
	if record.EventType == "" {
		return nil, fmt.Errorf("stream record %q has no event_type", record.EventId)
	}
	if len(record.Data) == 0 || string(record.Data) == "null" {
		return nil, fmt.Errorf("stream record %q has no data", record.EventId)
	}
	return &record, nil
}
