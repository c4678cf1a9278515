package gtfs

import (
	"fmt"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

// TripUpdate holds the predicted stop arrivals reported for a trip in a single stream record
type TripUpdate struct {
	EventId            string           `json:"event_id"`
	IngestionTimestamp string           `json:"ingestion_timestamp"`
	TripId             string           `json:"trip_id"`
	RouteId            string           `json:"route_id"`
	StartDate          string           `json:"start_date"`
	StopTimeUpdates    []StopTimeUpdate `json:"stop_time_update"`
}

// StopTimeUpdate predicted arrival at a single stop on a trip.
// PredictedArrivalTime is unix seconds, nil if the feed did not provide an arrival time
type StopTimeUpdate struct {
	StopSequence         *uint32 `json:"stop_sequence"`
	StopId               string  `json:"stop_id"`
	PredictedArrivalTime *int64  `json:"predicted_arrival_time"`
}

// DecodeTripUpdate builds TripUpdate from a TRIP_UPDATE RawStreamRecord.
// StartDate is normalized to YYYYMMDD, a missing trip id or start date is left empty for the caller to handle
func DecodeTripUpdate(record *RawStreamRecord) (*TripUpdate, error) {
	var pb gtfsrtpb.TripUpdate
	if err := payloadUnmarshaler.Unmarshal(record.Data, &pb); err != nil {
		return nil, fmt.Errorf("unable to decode trip update %s: %w", record.EventId, err)
	}
	trip := pb.GetTrip()
	tripUpdate := TripUpdate{
		EventId:            record.EventId,
		IngestionTimestamp: record.IngestionTimestamp,
		TripId:             trip.GetTripId(),
		RouteId:            trip.GetRouteId(),
		StartDate:          NormalizeServiceDate(trip.GetStartDate()),
		StopTimeUpdates:    make([]StopTimeUpdate, 0, len(pb.GetStopTimeUpdate())),
	}
	for _, stu := range pb.GetStopTimeUpdate() {
		update := StopTimeUpdate{
			StopSequence: stu.StopSequence,
			StopId:       stu.GetStopId(),
		}
		if arrival := stu.GetArrival(); arrival != nil && arrival.Time != nil {
			predicted := arrival.GetTime()
			update.PredictedArrivalTime = &predicted
		}
		tripUpdate.StopTimeUpdates = append(tripUpdate.StopTimeUpdates, update)
	}
	return &tripUpdate, nil
}
