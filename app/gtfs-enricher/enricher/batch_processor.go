package enricher

import (
	"context"
	"errors"
	logger "log"
	"time"

	"github.com/OpenTransitTools/transitenricher/business/data/gtfs"
)

// batchSummary counts what happened to a processed batch
type batchSummary struct {
	records        int
	skipped        int
	tripsEnriched  int
	tripsDropped   int
	positions      int
	serviceAlerts  int
	alertsSent     int
	failedSinks    int
	enrichedTrips  []*gtfs.EnrichedTripRecord
	alertedTripIds map[string]bool
}

// batchProcessor enriches the trip updates of a batch of stream records and writes the results
type batchProcessor struct {
	log                   *logger.Logger
	metrics               *metricsCollector
	scheduleCache         *scheduleCache
	alertDispatcher       *alertDispatcher
	fanoutWriter          *fanoutWriter
	holidays              *serviceDayCalendar
	location              *time.Location
	delayThresholdSeconds int
}

// makeBatchProcessor builds batchProcessor
func makeBatchProcessor(log *logger.Logger,
	metrics *metricsCollector,
	scheduleCache *scheduleCache,
	alertDispatcher *alertDispatcher,
	fanoutWriter *fanoutWriter,
	location *time.Location,
	delayThresholdSeconds int) *batchProcessor {
	return &batchProcessor{
		log:                   log,
		metrics:               metrics,
		scheduleCache:         scheduleCache,
		alertDispatcher:       alertDispatcher,
		fanoutWriter:          fanoutWriter,
		holidays:              makeServiceDayCalendar(location),
		location:              location,
		delayThresholdSeconds: delayThresholdSeconds,
	}
}

// processBatch parses and classifies payloads, enriches trip updates in arrival order, sends delay alerts
// and writes enriched trips, vehicle positions and service alerts.
// At most one delay alert is successfully sent per trip for the batch.
func (p *batchProcessor) processBatch(ctx context.Context, payloads [][]byte) *batchSummary {
	start := time.Now()
	p.metrics.recordsReceived.Add(float64(len(payloads)))

	records := make([]*gtfs.RawStreamRecord, 0, len(payloads))
	skipped := 0
	for _, payload := range payloads {
		record, err := gtfs.ParseRawStreamRecord(payload)
		if err != nil {
			p.log.Printf("skipping stream record: %v", err)
			p.metrics.recordsSkipped.WithLabelValues("envelope").Inc()
			skipped++
			continue
		}
		records = append(records, record)
	}

	classified := classifyRecords(p.log, p.metrics, records)

	summary := batchSummary{
		records:        len(payloads),
		skipped:        skipped + classified.skipped,
		enrichedTrips:  make([]*gtfs.EnrichedTripRecord, 0, len(classified.tripUpdates)),
		alertedTripIds: make(map[string]bool),
	}

	for _, tripUpdate := range classified.tripUpdates {
		if tripUpdate.TripId == "" || tripUpdate.StartDate == "" {
			p.log.Printf("dropping trip update %s, missing trip_id or start_date", tripUpdate.EventId)
			p.metrics.tripsDropped.Inc()
			summary.tripsDropped++
			continue
		}
		record := p.enrichTripUpdate(ctx, tripUpdate, classified.vehiclePositions, summary.alertedTripIds)
		summary.enrichedTrips = append(summary.enrichedTrips, record)
	}
	summary.tripsEnriched = len(summary.enrichedTrips)
	summary.alertsSent = len(summary.alertedTripIds)
	p.metrics.tripsEnriched.Add(float64(summary.tripsEnriched))

	positions := classified.orderedVehiclePositions()
	summary.positions = len(positions)
	summary.serviceAlerts = len(classified.serviceAlerts)
	summary.failedSinks = p.fanoutWriter.write(ctx, summary.enrichedTrips, positions, classified.serviceAlerts)

	finished := time.Now()
	p.metrics.observeBatch(len(payloads), finished.Sub(start), finished)
	p.log.Printf("processed batch of %d records: %d skipped, %d trips enriched, %d dropped, %d positions, "+
		"%d service alerts, %d delay alerts sent, %d failed sinks in %s",
		summary.records, summary.skipped, summary.tripsEnriched, summary.tripsDropped, summary.positions,
		summary.serviceAlerts, summary.alertsSent, summary.failedSinks, fmtDuration(finished.Sub(start)))
	return &summary
}

// enrichTripUpdate joins tripUpdate with schedule data and the trip's vehicle position.
// alertedTripIds holds the trips a delay alert was already sent for in this batch, and gains tripUpdate's trip
// when an alert for it is sent successfully.
func (p *batchProcessor) enrichTripUpdate(ctx context.Context,
	tripUpdate *gtfs.TripUpdate,
	vehiclePositions map[string]*gtfs.VehiclePosition,
	alertedTripIds map[string]bool) *gtfs.EnrichedTripRecord {

	schedule := p.scheduleCache.lookupScheduleForTrip(ctx, tripUpdate.TripId)

	predictions := make([]gtfs.EnrichedStopPrediction, 0, len(tripUpdate.StopTimeUpdates))
	for _, stopUpdate := range tripUpdate.StopTimeUpdates {
		prediction := gtfs.EnrichedStopPrediction{
			StopId:               stopUpdate.StopId,
			StopName:             p.scheduleCache.lookupStopName(ctx, stopUpdate.StopId),
			PredictedArrivalTime: stopUpdate.PredictedArrivalTime,
		}
		if scheduled, present := schedule[stopUpdate.StopId]; present {
			prediction.ScheduledArrivalTime = &scheduled
		}
		prediction.CalculatedDelaySeconds = p.calculateDelay(tripUpdate, &prediction)

		if prediction.CalculatedDelaySeconds != nil &&
			*prediction.CalculatedDelaySeconds > p.delayThresholdSeconds &&
			!alertedTripIds[tripUpdate.TripId] {
			if p.alertDispatcher.sendDelayAlert(tripUpdate.RouteId, tripUpdate.TripId,
				*prediction.CalculatedDelaySeconds, stopUpdate.StopId, prediction.StopName) {
				alertedTripIds[tripUpdate.TripId] = true
			}
		}
		predictions = append(predictions, prediction)
	}

	return &gtfs.EnrichedTripRecord{
		TripId:             tripUpdate.TripId,
		EventId:            tripUpdate.EventId,
		IngestionTimestamp: tripUpdate.IngestionTimestamp,
		RouteId:            tripUpdate.RouteId,
		StartDate:          tripUpdate.StartDate,
		ServiceDayHoliday:  p.holidays.isHoliday(tripUpdate.StartDate),
		StopPredictions:    predictions,
		LivePosition:       vehiclePositions[tripUpdate.TripId],
	}
}

// calculateDelay returns the delay of prediction or nil if it can't be calculated.
// Malformed schedule data is logged, absent data is expected and is not
func (p *batchProcessor) calculateDelay(tripUpdate *gtfs.TripUpdate, prediction *gtfs.EnrichedStopPrediction) *int {
	delay, err := gtfs.CalculateDelay(prediction.PredictedArrivalTime, prediction.ScheduledArrivalTime,
		tripUpdate.StartDate, p.location)
	if errors.Is(err, gtfs.ErrMissingInput) {
		return nil
	}
	if err != nil {
		p.metrics.delayCalcErrors.Inc()
		p.log.Printf("error calculating delay for trip %s stop %s: %v", tripUpdate.TripId, prediction.StopId, err)
		return nil
	}
	return &delay
}
