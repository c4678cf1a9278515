package enricher

import (
	"fmt"
	logger "log"
	"sync"

	"github.com/nats-io/nats.go"
)

//startNatsRecordListener subscribes to recordSubject in queueGroup so more than one gtfs-enricher process can
//share the stream, and forwards each message body to payloads until shutdownSignal
func startNatsRecordListener(log *logger.Logger,
	wg *sync.WaitGroup,
	natsConn *nats.Conn,
	recordSubject string,
	queueGroup string,
	payloads chan<- []byte,
	shutdownSignal chan bool) error {

	ch := make(chan *nats.Msg, 256)
	log.Printf("Subscribing to %s in queue group %s on nats: %v\n", recordSubject, queueGroup, natsConn.Servers())
	sub, err := natsConn.ChanQueueSubscribe(recordSubject, queueGroup, ch)
	if err != nil {
		return fmt.Errorf("unable to subscribe to %s: %w", recordSubject, err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-ch:
				payloads <- msg.Data
			case <-shutdownSignal:
				log.Printf("ending nats record listener on shutdown signal\n")
				unsubscribe(log, sub, recordSubject)
				// hand over anything already delivered to the subscription channel
				for {
					select {
					case msg := <-ch:
						payloads <- msg.Data
					default:
						log.Printf("exiting nats record listener\n")
						return
					}
				}
			}
		}
	}()
	return nil
}

//unsubscribe convenience function for unsubscribing from a NATS subscription, and logging the results.
func unsubscribe(log *logger.Logger, sub *nats.Subscription, subName string) {
	if !sub.IsValid() {
		return
	}
	log.Printf("Unsubscribing from %s\n", subName)
	err := sub.Unsubscribe()

	if err != nil {
		log.Printf("error when attempting to unsubscribe from %s: %v\n", subName, err)
	}
}
