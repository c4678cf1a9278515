package enricher

import (
	"encoding/json"
	"fmt"
	logger "log"
	"math"

	"github.com/nats-io/nats.go"
)

// DelayAlert is the notification published when a trip is predicted to arrive late at a stop
type DelayAlert struct {
	Subject      string `json:"subject"`
	Message      string `json:"message"`
	RouteId      string `json:"route_id"`
	TripId       string `json:"trip_id"`
	StopId       string `json:"stop_id"`
	DelaySeconds int    `json:"delay_seconds"`
}

// alertDestination is where delay alerts are sent
type alertDestination interface {
	Publish(alert *DelayAlert) error
}

// natsAlertDestination sends delay alerts over nats
type natsAlertDestination struct {
	natsConn     *nats.Conn
	alertSubject string
}

func (n *natsAlertDestination) Publish(alert *DelayAlert) error {
	jsonData, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("error marshaling delay alert to json: %w", err)
	}
	return n.natsConn.Publish(n.alertSubject, jsonData)
}

// alertDispatcher formats delay alerts and sends them to an alertDestination
type alertDispatcher struct {
	log         *logger.Logger
	destination alertDestination
	metrics     *metricsCollector
	agencyName  string
}

// makeAlertDispatcher builds alertDispatcher
func makeAlertDispatcher(log *logger.Logger,
	destination alertDestination,
	metrics *metricsCollector,
	agencyName string) *alertDispatcher {
	return &alertDispatcher{
		log:         log,
		destination: destination,
		metrics:     metrics,
		agencyName:  agencyName,
	}
}

// sendDelayAlert publishes a delay alert, returns true if the publish succeeded.
// Failures are logged and not retried
func (a *alertDispatcher) sendDelayAlert(routeId string,
	tripId string,
	delaySeconds int,
	stopId string,
	stopName *string) bool {

	alert := makeDelayAlert(a.agencyName, routeId, tripId, delaySeconds, stopId, stopName)
	if err := a.destination.Publish(alert); err != nil {
		a.metrics.alertPublishErrs.Inc()
		a.log.Printf("failed to publish delay alert for trip %s: %v", tripId, err)
		return false
	}
	a.metrics.alertsPublished.Inc()
	a.log.Printf("published delay alert for trip %s, %d seconds late at %s", tripId, delaySeconds, stopId)
	return true
}

// makeDelayAlert formats the subject and message of a DelayAlert.
// The station is the stop name, or stop id when the name is unknown
func makeDelayAlert(agencyName string,
	routeId string,
	tripId string,
	delaySeconds int,
	stopId string,
	stopName *string) *DelayAlert {

	station := stopId
	if stopName != nil {
		station = *stopName
	}
	minutes := int(math.RoundToEven(float64(delaySeconds) / 60))
	return &DelayAlert{
		Subject: fmt.Sprintf("%s Delay Alert: Route %s", agencyName, routeId),
		Message: fmt.Sprintf("%s Delay Alert:\nRoute: %s\nTrain with Trip ID: %s\n"+
			"Is now predicted to be %d minutes late for station: %s.",
			agencyName, routeId, tripId, minutes, station),
		RouteId:      routeId,
		TripId:       tripId,
		StopId:       stopId,
		DelaySeconds: delaySeconds,
	}
}
