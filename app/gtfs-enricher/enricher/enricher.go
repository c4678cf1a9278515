package enricher

import (
	"context"
	"fmt"
	logger "log"
	"os"
	"sync"
	"time"
	_ "time/tzdata" // time zones resolve without host zoneinfo

	"github.com/OpenTransitTools/transitenricher/foundation/database"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Conf holds the settings of the enrichment engine
type Conf struct {
	RecordSubject         string        `validate:"required"`
	QueueGroup            string        `validate:"required"`
	AlertSubject          string        `validate:"required"`
	MaxBatchRecords       int           `validate:"gte=1"`
	BatchWindow           time.Duration `validate:"gt=0s"`
	DelayThresholdSeconds int           `validate:"gte=0"`
	TimeZone              string        `validate:"required"`
	AgencyName            string        `validate:"required"`
	CacheSize             int           `validate:"gte=1"`
	CacheExpiration       time.Duration `validate:"gte=0s"`
	RedisKeyPrefix        string
	RedisTTL              time.Duration `validate:"gte=0s"`
	HttpPort              int           `validate:"gte=1,lte=65535"`
}

// validate checks conf, returning the first problem found
func (c *Conf) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid enricher configuration: %w", err)
	}
	return nil
}

// StartEnricher brings up the record listener, batch loop and web service and runs until shutdownSignal.
// Records are read from kafkaConsumer when it's not nil, otherwise from natsConn.
// Vehicle positions are written to rdb when it's not nil, otherwise to db.
// On shutdown the listener is stopped first, then records already received are processed, then the web service ends
func StartEnricher(log *logger.Logger,
	db *sqlx.DB,
	natsConn *nats.Conn,
	rdb *redis.Client,
	kafkaConsumer *kafka.Consumer,
	conf Conf,
	shutdownSignal chan os.Signal) error {

	if err := conf.validate(); err != nil {
		return err
	}
	location, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		return fmt.Errorf("unable to load time zone %s: %w", conf.TimeZone, err)
	}

	metrics := makeMetricsCollector()
	processor := makeEnricherBatchProcessor(log, db, natsConn, rdb, metrics, location, conf)

	listenerWg := sync.WaitGroup{}
	batchLoopWg := sync.WaitGroup{}
	webServiceWg := sync.WaitGroup{}

	listenerShutdown := make(chan bool, 1)
	batchLoopShutdown := make(chan bool, 1)
	webServiceShutdown := make(chan bool, 1)

	payloads := make(chan []byte, conf.MaxBatchRecords*2)

	if kafkaConsumer != nil {
		startKafkaRecordListener(log, &listenerWg, kafkaConsumer, payloads, listenerShutdown)
	} else {
		err = startNatsRecordListener(log, &listenerWg, natsConn, conf.RecordSubject, conf.QueueGroup, payloads,
			listenerShutdown)
		if err != nil {
			return err
		}
	}

	batchLoopWg.Add(1)
	go runBatchLoop(log, &batchLoopWg, processor, payloads, conf.MaxBatchRecords, conf.BatchWindow,
		batchLoopShutdown)

	webServiceWg.Add(1)
	go runWebService(log, &webServiceWg, metrics, databaseStatusCheck(db), conf.HttpPort, webServiceShutdown)

	<-shutdownSignal
	log.Printf("Exiting on shutdown signal, shutting down subroutines")
	listenerShutdown <- true
	listenerWg.Wait()
	batchLoopShutdown <- true
	batchLoopWg.Wait()
	webServiceShutdown <- true
	webServiceWg.Wait()
	log.Printf("Subroutines shut down, exiting enricher")
	return nil
}

// makeEnricherBatchProcessor wires the schedule cache, alert dispatcher and sinks into a batchProcessor
func makeEnricherBatchProcessor(log *logger.Logger,
	db *sqlx.DB,
	natsConn *nats.Conn,
	rdb *redis.Client,
	metrics *metricsCollector,
	location *time.Location,
	conf Conf) *batchProcessor {

	scheduleCache := makeScheduleCache(log, &sqlScheduleStore{db: db}, metrics, conf.CacheSize, conf.CacheExpiration)
	dispatcher := makeAlertDispatcher(log,
		&natsAlertDestination{natsConn: natsConn, alertSubject: conf.AlertSubject}, metrics, conf.AgencyName)

	dbSink := &sqlSink{db: db}
	var positionSink vehiclePositionSink = dbSink
	if rdb != nil {
		log.Printf("Writing vehicle positions to redis with key prefix %s", conf.RedisKeyPrefix)
		positionSink = &redisPositionSink{rdb: rdb, keyPrefix: conf.RedisKeyPrefix, ttl: conf.RedisTTL}
	}
	writer := makeFanoutWriter(log, metrics, dbSink, positionSink, dbSink)

	return makeBatchProcessor(log, metrics, scheduleCache, dispatcher, writer, location, conf.DelayThresholdSeconds)
}

// databaseStatusCheck checks db with database.StatusCheck
func databaseStatusCheck(db *sqlx.DB) statusCheck {
	return func(ctx context.Context) error {
		return database.StatusCheck(ctx, db)
	}
}
