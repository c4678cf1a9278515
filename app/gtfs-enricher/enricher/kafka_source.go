package enricher

import (
	"errors"
	"fmt"
	logger "log"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

// kafkaMessageReader is the part of kafka.Consumer used to read stream records
type kafkaMessageReader interface {
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
}

// MakeKafkaConsumer creates a kafka consumer in groupId subscribed to the comma separated topics
func MakeKafkaConsumer(brokers string, groupId string, topics string) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"group.id":          groupId,
		"auto.offset.reset": "latest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	err = consumer.SubscribeTopics(splitTopics(topics), nil)
	if err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("failed to subscribe to kafka topics %s: %w", topics, err)
	}
	return consumer, nil
}

// splitTopics returns the non-empty entries of a comma separated topic list
func splitTopics(topics string) []string {
	results := make([]string, 0)
	for _, topic := range strings.Split(topics, ",") {
		topic = strings.TrimSpace(topic)
		if topic != "" {
			results = append(results, topic)
		}
	}
	return results
}

// startKafkaRecordListener polls reader for messages and forwards each value to payloads until shutdownSignal
func startKafkaRecordListener(log *logger.Logger,
	wg *sync.WaitGroup,
	reader kafkaMessageReader,
	payloads chan<- []byte,
	shutdownSignal chan bool) {

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Starting kafka record listener")
		for {
			select {
			case <-shutdownSignal:
				log.Printf("exiting kafka record listener on shutdown signal")
				return
			default:
			}
			msg, err := reader.ReadMessage(100 * time.Millisecond)
			if err != nil {
				if !isKafkaTimeout(err) {
					log.Printf("error reading kafka message: %v", err)
				}
				continue
			}
			payloads <- msg.Value
		}
	}()
}

// isKafkaTimeout is true when err only means no message arrived before the read timeout
func isKafkaTimeout(err error) bool {
	var kafkaErr kafka.Error
	if errors.As(err, &kafkaErr) {
		return kafkaErr.Code() == kafka.ErrTimedOut
	}
	return false
}
