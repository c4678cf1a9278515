package enricher

import (
	"errors"
	"fmt"
	logger "log"

	"github.com/OpenTransitTools/transitenricher/business/data/gtfs"
)

// classifiedBatch is a batch of stream records split by event type
type classifiedBatch struct {
	tripUpdates []*gtfs.TripUpdate
	// latest position in the batch for each trip id
	vehiclePositions map[string]*gtfs.VehiclePosition
	// trip ids of vehiclePositions in the order they were first seen
	vehicleTripIds []string
	serviceAlerts  []*gtfs.ServiceAlert
	skipped        int
}

// orderedVehiclePositions returns vehiclePositions in the order their trips first appeared in the batch
func (c *classifiedBatch) orderedVehiclePositions() []*gtfs.VehiclePosition {
	positions := make([]*gtfs.VehiclePosition, 0, len(c.vehicleTripIds))
	for _, tripId := range c.vehicleTripIds {
		positions = append(positions, c.vehiclePositions[tripId])
	}
	return positions
}

// classifyRecords decodes records in order, splitting them into trip updates, vehicle positions by trip id and
// service alerts. A later vehicle position for a trip replaces an earlier one.
// Records that can't be decoded are logged and skipped.
func classifyRecords(log *logger.Logger, metrics *metricsCollector, records []*gtfs.RawStreamRecord) *classifiedBatch {
	batch := classifiedBatch{
		tripUpdates:      make([]*gtfs.TripUpdate, 0),
		vehiclePositions: make(map[string]*gtfs.VehiclePosition),
		vehicleTripIds:   make([]string, 0),
		serviceAlerts:    make([]*gtfs.ServiceAlert, 0),
	}
	for _, record := range records {
		if err := batch.addRecord(record); err != nil {
			log.Printf("skipping record: %v", err)
			batch.skipped++
			reason := "payload"
			if errors.Is(err, gtfs.ErrUnknownEventType) {
				reason = "unknown_type"
			}
			metrics.recordsSkipped.WithLabelValues(reason).Inc()
		}
	}
	return &batch
}

// addRecord decodes record and adds it to the matching group
func (c *classifiedBatch) addRecord(record *gtfs.RawStreamRecord) error {
	switch record.EventType {
	case gtfs.TripUpdateEvent:
		tripUpdate, err := gtfs.DecodeTripUpdate(record)
		if err != nil {
			return err
		}
		c.tripUpdates = append(c.tripUpdates, tripUpdate)
	case gtfs.VehiclePositionEvent:
		position, err := gtfs.DecodeVehiclePosition(record)
		if err != nil {
			return err
		}
		if _, present := c.vehiclePositions[position.TripId]; !present {
			c.vehicleTripIds = append(c.vehicleTripIds, position.TripId)
		}
		c.vehiclePositions[position.TripId] = position
	case gtfs.ServiceAlertEvent:
		alert, err := gtfs.DecodeServiceAlert(record)
		if err != nil {
			return err
		}
		c.serviceAlerts = append(c.serviceAlerts, alert)
	default:
		return fmt.Errorf("record %s with event_type %q: %w", record.EventId, record.EventType, gtfs.ErrUnknownEventType)
	}
	return nil
}
