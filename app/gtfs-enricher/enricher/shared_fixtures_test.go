package enricher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	logger "log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitenricher/business/data/gtfs"
)

type testLogWriter struct {
	mu       sync.Mutex
	logLines []string
	log      *logger.Logger
}

func makeTestLogWriter() *testLogWriter {
	logWriter := testLogWriter{
		logLines: make([]string, 0),
	}
	log := logger.New(&logWriter, "TEST_GTFS_ENRICHER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	logWriter.log = log
	return &logWriter
}

func (t *testLogWriter) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logLines = append(t.logLines, string(p))
	return len(p), nil
}

func strPtr(s string) *string {
	return &s
}

func newYorkLocation(t *testing.T) *time.Location {
	location, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("Unable to get testing time zone location: %v", err)
	}
	return location
}

// makePayload builds a raw stream record as published by the feed fetcher
func makePayload(eventType gtfs.EventType, eventId string, data string) []byte {
	return []byte(fmt.Sprintf(`{"event_type":%q,"ingestion_timestamp":"2024-03-01T13:05:00+00:00","event_id":%q,"data":%s}`,
		eventType, eventId, data))
}

// tripUpdateData builds trip update json for tripId with one arrival time per stop, a zero arrival is left out
func tripUpdateData(tripId string, routeId string, startDate string, stopIds []string, arrivals []int64) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf(`{"trip":{"tripId":%q,"routeId":%q,"startDate":%q},"stopTimeUpdate":[`,
		tripId, routeId, startDate))
	for i, stopId := range stopIds {
		if i > 0 {
			buf.WriteString(",")
		}
		if arrivals[i] == 0 {
			buf.WriteString(fmt.Sprintf(`{"stopId":%q}`, stopId))
			continue
		}
		buf.WriteString(fmt.Sprintf(`{"stopId":%q,"arrival":{"time":"%d"}}`, stopId, arrivals[i]))
	}
	buf.WriteString("]}")
	return buf.String()
}

// getTestPayloads reads one raw stream record per line from a file in testdata
func getTestPayloads(fileName string, t *testing.T) [][]byte {
	file, err := os.Open(fmt.Sprintf("testdata/%s", fileName))
	if err != nil {
		t.Fatalf("unable to read test payload file: %v", err)
	}
	defer func() { _ = file.Close() }()
	payloads := make([][]byte, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		payloads = append(payloads, append([]byte(nil), line...))
	}
	if err = scanner.Err(); err != nil {
		t.Fatalf("unable to read test payload file: %v", err)
	}
	return payloads
}

// fakeScheduleStore serves stop names and schedules from memory and counts lookups
type fakeScheduleStore struct {
	mu            sync.Mutex
	stopNames     map[string]string
	schedules     map[string]map[string]string
	err           error
	stopNameCalls map[string]int
	scheduleCalls map[string]int
}

func makeFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{
		stopNames: map[string]string{
			"S1": "Main St",
			"S2": "Elm St",
		},
		schedules: map[string]map[string]string{
			"A": {"S1": "08:00:00", "S2": "08:05:00", "S3": "08:10:00"},
			"B": {"S1": "09:00:00"},
		},
		stopNameCalls: make(map[string]int),
		scheduleCalls: make(map[string]int),
	}
}

func (f *fakeScheduleStore) GetStopName(_ context.Context, stopId string) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopNameCalls[stopId]++
	if f.err != nil {
		return nil, f.err
	}
	name, present := f.stopNames[stopId]
	if !present {
		return nil, nil
	}
	return &name, nil
}

func (f *fakeScheduleStore) GetScheduledArrivals(_ context.Context, tripIds []string) (map[string]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make(map[string]map[string]string)
	for _, tripId := range tripIds {
		f.scheduleCalls[tripId]++
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, tripId := range tripIds {
		if schedule, present := f.schedules[tripId]; present {
			results[tripId] = schedule
		}
	}
	return results, nil
}

// fakeAlertDestination records published alerts, failing the first failures publishes
type fakeAlertDestination struct {
	mu        sync.Mutex
	failures  int
	attempts  int
	published []*DelayAlert
}

func (f *fakeAlertDestination) Publish(alert *DelayAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("alert destination unavailable")
	}
	f.published = append(f.published, alert)
	return nil
}

// recordingSink implements all three sinks, remembering what was written and in what order
type recordingSink struct {
	mu          sync.Mutex
	writeOrder  []string
	trips       []*gtfs.EnrichedTripRecord
	positions   []*gtfs.VehiclePosition
	alerts      []*gtfs.ServiceAlert
	tripErr     error
	positionErr error
	alertErr    error
}

func (r *recordingSink) RecordEnrichedTrips(_ context.Context, records []*gtfs.EnrichedTripRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeOrder = append(r.writeOrder, tripSinkLabel)
	if r.tripErr != nil {
		return r.tripErr
	}
	r.trips = append(r.trips, records...)
	return nil
}

func (r *recordingSink) RecordVehiclePositions(_ context.Context, positions []*gtfs.VehiclePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeOrder = append(r.writeOrder, positionSinkLabel)
	if r.positionErr != nil {
		return r.positionErr
	}
	r.positions = append(r.positions, positions...)
	return nil
}

func (r *recordingSink) RecordServiceAlerts(_ context.Context, alerts []*gtfs.ServiceAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeOrder = append(r.writeOrder, alertSinkLabel)
	if r.alertErr != nil {
		return r.alertErr
	}
	r.alerts = append(r.alerts, alerts...)
	return nil
}

// testProcessor is a batchProcessor wired to fakes
type testProcessor struct {
	processor   *batchProcessor
	store       *fakeScheduleStore
	destination *fakeAlertDestination
	sink        *recordingSink
	metrics     *metricsCollector
	logWriter   *testLogWriter
}

func makeTestProcessor(t *testing.T) *testProcessor {
	logWriter := makeTestLogWriter()
	metrics := makeMetricsCollector()
	store := makeFakeScheduleStore()
	destination := &fakeAlertDestination{}
	sink := &recordingSink{}
	cache := makeScheduleCache(logWriter.log, store, metrics, 100, time.Hour)
	dispatcher := makeAlertDispatcher(logWriter.log, destination, metrics, "MTA")
	writer := makeFanoutWriter(logWriter.log, metrics, sink, sink, sink)
	return &testProcessor{
		processor: makeBatchProcessor(logWriter.log, metrics, cache, dispatcher, writer,
			newYorkLocation(t), 300),
		store:       store,
		destination: destination,
		sink:        sink,
		metrics:     metrics,
		logWriter:   logWriter,
	}
}
