package main

import (
	"context"
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenTransitTools/transitenricher/app/gtfs-enricher/enricher"
	"github.com/OpenTransitTools/transitenricher/business/data/gtfs"
	"github.com/OpenTransitTools/transitenricher/foundation/database"
	"github.com/ardanlabs/conf"
	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "GTFS_ENRICHER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	// settings in a local .env file become environment variables, real environment variables take precedence
	_ = godotenv.Load()

	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			Driver       string `conf:"default:pgx"`
			User         string `conf:"default:postgres"`
			Password     string `conf:"default:postgres,noprint"`
			Host         string `conf:"default:0.0.0.0"`
			Name         string `conf:"default:postgres"`
			DisableTLS   bool   `conf:"default:true"`
			CreateSchema bool   `conf:"default:false"`
		}
		NATS struct {
			URL           string `conf:"default:nats://localhost:4222"`
			RecordSubject string `conf:"default:gtfs-rt-records"`
			QueueGroup    string `conf:"default:gtfs-enricher"`
			AlertSubject  string `conf:"default:delay-alerts"`
		}
		Kafka struct {
			Brokers string
			Topics  string `conf:"default:gtfs-rt-records"`
			GroupId string `conf:"default:gtfs-enricher"`
		}
		Redis struct {
			Addr      string
			Password  string        `conf:"noprint"`
			KeyPrefix string        `conf:"default:vehicle_position:"`
			TTL       time.Duration `conf:"default:15m"`
		}
		Enricher struct {
			MaxBatchRecords       int           `conf:"default:500"`
			BatchWindow           time.Duration `conf:"default:10s"`
			DelayThresholdSeconds int           `conf:"default:300"`
			TimeZone              string        `conf:"default:America/New_York"`
			AgencyName            string        `conf:"default:MTA"`
			CacheSize             int           `conf:"default:10000"`
			CacheExpiration       time.Duration `conf:"default:1h"`
		}
		Startup struct {
			MaxRetries int `conf:"default:5"`
		}
		Web struct {
			Port int `conf:"default:8080"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Enrich gtfs-rt stream records with schedule data and publish delay alerts"
	const prefix = "ENRICHER"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			printUsage(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	// =========================================================================
	// Start Database

	log.Println("main: Initializing database support")

	var db *sqlx.DB
	err = retryStartup(log, "database", cfg.Startup.MaxRetries, func() error {
		var openErr error
		db, openErr = database.Open(database.Config{
			Driver:     cfg.DB.Driver,
			User:       cfg.DB.User,
			Password:   cfg.DB.Password,
			Host:       cfg.DB.Host,
			Name:       cfg.DB.Name,
			DisableTLS: cfg.DB.DisableTLS,
		})
		return openErr
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		err = db.Close()
		if err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	if cfg.DB.CreateSchema {
		log.Println("main: Creating database schema")
		if err = gtfs.CreateSchema(context.Background(), db); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	// =========================================================================
	// Start NATS

	log.Printf("main: Connecting to NATS at %s", cfg.NATS.URL)
	var natsConn *nats.Conn
	err = retryStartup(log, "nats", cfg.Startup.MaxRetries, func() error {
		var connectErr error
		natsConn, connectErr = nats.Connect(cfg.NATS.URL,
			nats.Name("gtfs-enricher"),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("nats disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Printf("nats reconnected to %s", nc.ConnectedUrl())
			}),
			nats.ClosedHandler(func(_ *nats.Conn) {
				log.Printf("nats closed")
			}),
		)
		return connectErr
	})
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer func() {
		log.Printf("main: NATS Stopping")
		if drainErr := natsConn.Drain(); drainErr != nil {
			log.Printf("main: error draining nats connection: %v", drainErr)
		}
	}()

	// =========================================================================
	// Optional Redis and Kafka

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		log.Printf("main: Connecting to redis at %s", cfg.Redis.Addr)
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if pingErr := rdb.Ping(context.Background()).Err(); pingErr != nil {
			log.Printf("main: redis ping failed, vehicle position writes will be retried each batch: %v", pingErr)
		}
		defer func() {
			log.Printf("main: Redis Stopping")
			if closeErr := rdb.Close(); closeErr != nil {
				log.Printf("main: error closing redis: %v", closeErr)
			}
		}()
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Brokers != "" {
		log.Printf("main: Reading records from kafka topics %s", cfg.Kafka.Topics)
		kafkaConsumer, err = enricher.MakeKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupId, cfg.Kafka.Topics)
		if err != nil {
			return err
		}
		defer func() {
			log.Printf("main: Kafka consumer Stopping")
			if closeErr := kafkaConsumer.Close(); closeErr != nil {
				log.Printf("main: error closing kafka consumer: %v", closeErr)
			}
		}()
	}

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return enricher.StartEnricher(log, db, natsConn, rdb, kafkaConsumer, enricher.Conf{
		RecordSubject:         cfg.NATS.RecordSubject,
		QueueGroup:            cfg.NATS.QueueGroup,
		AlertSubject:          cfg.NATS.AlertSubject,
		MaxBatchRecords:       cfg.Enricher.MaxBatchRecords,
		BatchWindow:           cfg.Enricher.BatchWindow,
		DelayThresholdSeconds: cfg.Enricher.DelayThresholdSeconds,
		TimeZone:              cfg.Enricher.TimeZone,
		AgencyName:            cfg.Enricher.AgencyName,
		CacheSize:             cfg.Enricher.CacheSize,
		CacheExpiration:       cfg.Enricher.CacheExpiration,
		RedisKeyPrefix:        cfg.Redis.KeyPrefix,
		RedisTTL:              cfg.Redis.TTL,
		HttpPort:              cfg.Web.Port,
	}, shutdown)
}

//retryStartup runs connect with exponential backoff until it succeeds or maxRetries is exhausted
func retryStartup(log *logger.Logger, name string, maxRetries int, connect func() error) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries))
	return backoff.RetryNotify(connect, b, func(err error, d time.Duration) {
		log.Printf("main: connecting to %s failed, retrying in %s: %v", name, d, err)
	})
}

func printUsage(confUsage string) {
	fmt.Println(confUsage)
}
