// Package gtfs provides gtfs related records, decoding of gtfs-realtime stream records and CRUD functionality
package gtfs

import (
	"errors"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
)

var (
	// ErrMissingInput is returned when a value required for a calculation is absent
	ErrMissingInput = errors.New("missing input")
	// ErrMissingTripId is returned when a record can not be associated with a trip
	ErrMissingTripId = errors.New("missing trip id")
	// ErrNoInformedEntity is returned for service alerts that do not inform any entity
	ErrNoInformedEntity = errors.New("service alert has no informed entity")
	// ErrUnknownEventType is returned for stream records with an unrecognized event_type
	ErrUnknownEventType = errors.New("unknown event type")
)

// payloadUnmarshaler decodes the protobuf json rendering of gtfs-realtime messages.
// Feeds carry extensions (nyct_trip_descriptor etc.) that are not registered here, those are dropped.
var payloadUnmarshaler = protojson.UnmarshalOptions{
	AllowPartial:   true,
	DiscardUnknown: true,
}

// NormalizeServiceDate removes separators from a service date, "2024-03-01" becomes "20240301"
func NormalizeServiceDate(date string) string {
	return strings.ReplaceAll(strings.TrimSpace(date), "-", "")
}

// stringPtr returns a copy of s as a pointer, or nil when s is empty
func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ingestionUnix returns the unix time of an ISO-8601 ingestion timestamp or 0 if it can't be parsed
func ingestionUnix(ingestionTimestamp string) int64 {
	at, err := time.Parse(time.RFC3339Nano, ingestionTimestamp)
	if err != nil {
		return 0
	}
	return at.Unix()
}
