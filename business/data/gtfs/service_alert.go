package gtfs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/jmoiron/sqlx"
)

// UnknownAlertCode replaces cause and effect codes that have no symbolic name
const UnknownAlertCode = "UNKNOWN"

var alertCauses = map[int]string{
	1:  "UNKNOWN_CAUSE",
	2:  "OTHER_CAUSE",
	3:  "TECHNICAL_PROBLEM",
	4:  "STRIKE",
	5:  "DEMONSTRATION",
	6:  "ACCIDENT",
	7:  "HOLIDAY",
	8:  "WEATHER",
	9:  "MAINTENANCE",
	10: "CONSTRUCTION",
	11: "POLICE_ACTIVITY",
	12: "MEDICAL_EMERGENCY",
}

var alertEffects = map[int]string{
	1: "NO_SERVICE",
	2: "REDUCED_SERVICE",
	3: "SIGNIFICANT_DELAYS",
	4: "DETOUR",
	5: "ADDITIONAL_SERVICE",
	6: "MODIFIED_SERVICE",
	7: "OTHER_EFFECT",
	8: "UNKNOWN_EFFECT",
	9: "STOP_MOVED",
}

// ServiceAlert is a rider facing disruption notice, stored without enrichment
type ServiceAlert struct {
	EventId            string           `json:"event_id"`
	IngestionTimestamp string           `json:"ingestion_timestamp"`
	Cause              *string          `json:"cause"`
	Effect             *string          `json:"effect"`
	HeaderText         *string          `json:"header_text"`
	DescriptionText    *string          `json:"description_text"`
	Url                *string          `json:"url"`
	InformedEntities   []InformedEntity `json:"informed_entities"`
	ActivePeriods      []ActivePeriod   `json:"active_periods"`
}

// InformedEntity is a transit entity a ServiceAlert applies to
type InformedEntity struct {
	AgencyId  *string `json:"agency_id,omitempty"`
	RouteId   *string `json:"route_id,omitempty"`
	RouteType *int32  `json:"route_type,omitempty"`
	TripId    *string `json:"trip_id,omitempty"`
	StopId    *string `json:"stop_id,omitempty"`
}

// ActivePeriod is a unix time range a ServiceAlert is in effect, either end may be open
type ActivePeriod struct {
	Start *uint64 `json:"start,omitempty"`
	End   *uint64 `json:"end,omitempty"`
}

// alertCodes captures cause and effect as they appear in the payload, either enum numbers or names
type alertCodes struct {
	Cause  json.RawMessage `json:"cause"`
	Effect json.RawMessage `json:"effect"`
}

// codeName translates a cause or effect code to its symbolic name, UnknownAlertCode if there is no mapping
func codeName(names map[int]string, code int) string {
	if name, present := names[code]; present {
		return name
	}
	return UnknownAlertCode
}

// translateAlertCode maps a raw json cause or effect to a symbolic name.
// Numbers are looked up in names, strings are kept when they are one of the names.
// Returns nil when the payload did not carry the field.
func translateAlertCode(raw json.RawMessage, names map[int]string) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	result := UnknownAlertCode
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		result = codeName(names, code)
		return &result
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return &result
	}
	if code, err := strconv.Atoi(name); err == nil {
		result = codeName(names, code)
		return &result
	}
	for _, known := range names {
		if known == name {
			result = name
			break
		}
	}
	return &result
}

// DecodeServiceAlert builds ServiceAlert from a SERVICE_ALERT RawStreamRecord.
// Returns ErrNoInformedEntity if the alert does not apply to any entity.
func DecodeServiceAlert(record *RawStreamRecord) (*ServiceAlert, error) {
	var codes alertCodes
	if err := json.Unmarshal(record.Data, &codes); err != nil {
		return nil, fmt.Errorf("unable to decode service alert %s: %w", record.EventId, err)
	}
	var pb gtfsrtpb.Alert
	if err := payloadUnmarshaler.Unmarshal(record.Data, &pb); err != nil {
		return nil, fmt.Errorf("unable to decode service alert %s: %w", record.EventId, err)
	}
	if len(pb.GetInformedEntity()) == 0 {
		return nil, fmt.Errorf("service alert %s: %w", record.EventId, ErrNoInformedEntity)
	}

	alert := ServiceAlert{
		EventId:            record.EventId,
		IngestionTimestamp: record.IngestionTimestamp,
		Cause:              translateAlertCode(codes.Cause, alertCauses),
		Effect:             translateAlertCode(codes.Effect, alertEffects),
		HeaderText:         translatedText(pb.GetHeaderText()),
		DescriptionText:    translatedText(pb.GetDescriptionText()),
		Url:                translatedText(pb.GetUrl()),
		InformedEntities:   make([]InformedEntity, 0, len(pb.GetInformedEntity())),
		ActivePeriods:      make([]ActivePeriod, 0, len(pb.GetActivePeriod())),
	}
	for _, entity := range pb.GetInformedEntity() {
		alert.InformedEntities = append(alert.InformedEntities, InformedEntity{
			AgencyId:  entity.AgencyId,
			RouteId:   entity.RouteId,
			RouteType: entity.RouteType,
			TripId:    stringPtr(entity.GetTrip().GetTripId()),
			StopId:    entity.StopId,
		})
	}
	for _, period := range pb.GetActivePeriod() {
		alert.ActivePeriods = append(alert.ActivePeriods, ActivePeriod{
			Start: period.Start,
			End:   period.End,
		})
	}
	return &alert, nil
}

// translatedText picks the english translation of a TranslatedString, or the first one if there is no english text
func translatedText(ts *gtfsrtpb.TranslatedString) *string {
	translations := ts.GetTranslation()
	if len(translations) == 0 {
		return nil
	}
	for _, translation := range translations {
		lang := translation.GetLanguage()
		if lang == "en" || lang == "" {
			return stringPtr(translation.GetText())
		}
	}
	return stringPtr(translations[0].GetText())
}

// serviceAlertRow is the service_alert table representation of ServiceAlert
type serviceAlertRow struct {
	EventId            string  `db:"event_id"`
	IngestionTimestamp string  `db:"ingestion_timestamp"`
	Cause              *string `db:"cause"`
	Effect             *string `db:"effect"`
	HeaderText         *string `db:"header_text"`
	DescriptionText    *string `db:"description_text"`
	Url                *string `db:"url"`
	InformedEntities   string  `db:"informed_entities"`
	ActivePeriods      string  `db:"active_periods"`
}

func makeServiceAlertRow(alert *ServiceAlert) (*serviceAlertRow, error) {
	entities, err := json.Marshal(alert.InformedEntities)
	if err != nil {
		return nil, err
	}
	periods, err := json.Marshal(alert.ActivePeriods)
	if err != nil {
		return nil, err
	}
	return &serviceAlertRow{
		EventId:            alert.EventId,
		IngestionTimestamp: alert.IngestionTimestamp,
		Cause:              alert.Cause,
		Effect:             alert.Effect,
		HeaderText:         alert.HeaderText,
		DescriptionText:    alert.DescriptionText,
		Url:                alert.Url,
		InformedEntities:   string(entities),
		ActivePeriods:      string(periods),
	}, nil
}

func (r *serviceAlertRow) serviceAlert() (*ServiceAlert, error) {
	alert := ServiceAlert{
		EventId:            r.EventId,
		IngestionTimestamp: r.IngestionTimestamp,
		Cause:              r.Cause,
		Effect:             r.Effect,
		HeaderText:         r.HeaderText,
		DescriptionText:    r.DescriptionText,
		Url:                r.Url,
	}
	if err := json.Unmarshal([]byte(r.InformedEntities), &alert.InformedEntities); err != nil {
		return nil, fmt.Errorf("unable to read informed_entities of alert %s: %w", r.EventId, err)
	}
	if err := json.Unmarshal([]byte(r.ActivePeriods), &alert.ActivePeriods); err != nil {
		return nil, fmt.Errorf("unable to read active_periods of alert %s: %w", r.EventId, err)
	}
	return &alert, nil
}

// RecordServiceAlerts upserts alerts into the service_alert table keyed by event_id
func RecordServiceAlerts(ctx context.Context, db *sqlx.DB, alerts []*ServiceAlert) error {
	statementString := "insert into service_alert ( " +
		"event_id, " +
		"ingestion_timestamp, " +
		"cause, " +
		"effect, " +
		"header_text, " +
		"description_text, " +
		"url, " +
		"informed_entities, " +
		"active_periods) " +
		"values (" +
		":event_id, " +
		":ingestion_timestamp, " +
		":cause, " +
		":effect, " +
		":header_text, " +
		":description_text, " +
		":url, " +
		":informed_entities, " +
		":active_periods) " +
		"on conflict (event_id) do update set " +
		"ingestion_timestamp = excluded.ingestion_timestamp, " +
		"cause = excluded.cause, " +
		"effect = excluded.effect, " +
		"header_text = excluded.header_text, " +
		"description_text = excluded.description_text, " +
		"url = excluded.url, " +
		"informed_entities = excluded.informed_entities, " +
		"active_periods = excluded.active_periods"

	return inTransaction(ctx, db, func(tx *sqlx.Tx) error {
		for _, alert := range alerts {
			row, err := makeServiceAlertRow(alert)
			if err != nil {
				return fmt.Errorf("unable to marshal service alert %s: %w", alert.EventId, err)
			}
			if _, err = tx.NamedExecContext(ctx, statementString, row); err != nil {
				return fmt.Errorf("unable to record service alert %s: %w", alert.EventId, err)
			}
		}
		return nil
	})
}

// GetServiceAlert retrieves the ServiceAlert stored for eventId, returns nil if none is present
func GetServiceAlert(ctx context.Context, db *sqlx.DB, eventId string) (*ServiceAlert, error) {
	query := db.Rebind("select * from service_alert where event_id = ?")
	var row serviceAlertRow
	err := db.GetContext(ctx, &row, query, eventId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.serviceAlert()
}
