package enricher

import (
	"testing"

	"github.com/OpenTransitTools/transitenricher/business/data/gtfs"
	"github.com/matryer/is"
)

func parseTestRecords(t *testing.T, payloads ...[]byte) []*gtfs.RawStreamRecord {
	records := make([]*gtfs.RawStreamRecord, 0, len(payloads))
	for _, payload := range payloads {
		record, err := gtfs.ParseRawStreamRecord(payload)
		if err != nil {
			t.Fatalf("unable to parse test record: %v", err)
		}
		records = append(records, record)
	}
	return records
}

func Test_classifyRecords(t *testing.T) {
	is := is.New(t)
	logWriter := makeTestLogWriter()
	records := parseTestRecords(t,
		makePayload(gtfs.TripUpdateEvent, "tu-1", tripUpdateData("A", "1", "20240301",
			[]string{"S1"}, []int64{1709298600})),
		makePayload(gtfs.VehiclePositionEvent, "vp-1", `{"trip":{"tripId":"A"},"timestamp":"1709298000"}`),
		makePayload(gtfs.ServiceAlertEvent, "sa-1", `{"informedEntity":[{"routeId":"1"}]}`),
		// alert without informed entity
		makePayload(gtfs.ServiceAlertEvent, "sa-2", `{"cause":"STRIKE"}`),
		// position without trip
		makePayload(gtfs.VehiclePositionEvent, "vp-2", `{"vehicle":{"id":"bus-1"}}`),
		makePayload(gtfs.TripUpdateEvent, "tu-2", tripUpdateData("B", "2", "20240301",
			[]string{"S1"}, []int64{1709302200})),
		makePayload("SHAPE", "sh-1", `{"shapeId":"1"}`),
		makePayload(gtfs.VehiclePositionEvent, "vp-3", `{"trip":{"tripId":"A"},"timestamp":"1709298100"}`),
	)

	batch := classifyRecords(logWriter.log, makeMetricsCollector(), records)

	is.Equal(batch.skipped, 3)
	is.Equal(len(batch.tripUpdates), 2)
	is.Equal(batch.tripUpdates[0].EventId, "tu-1")
	is.Equal(batch.tripUpdates[1].EventId, "tu-2")
	is.Equal(len(batch.serviceAlerts), 1)
	is.Equal(batch.serviceAlerts[0].EventId, "sa-1")

	positions := batch.orderedVehiclePositions()
	is.Equal(len(positions), 1)
	is.Equal(positions[0].PositionTimestamp, int64(1709298100))
}

func Test_classifyRecords_empty(t *testing.T) {
	is := is.New(t)
	logWriter := makeTestLogWriter()

	batch := classifyRecords(logWriter.log, makeMetricsCollector(), []*gtfs.RawStreamRecord{})

	is.Equal(batch.skipped, 0)
	is.Equal(len(batch.tripUpdates), 0)
	is.Equal(len(batch.orderedVehiclePositions()), 0)
	is.Equal(len(batch.serviceAlerts), 0)
}
