package enricher

import (
	"context"
	logger "log"
	"time"

	"github.com/OpenTransitTools/transitenricher/business/data/gtfs"
	"github.com/bluele/gcache"
	"github.com/jmoiron/sqlx"
)

// scheduleStore is the read only static reference data the scheduleCache is filled from
type scheduleStore interface {
	GetStopName(ctx context.Context, stopId string) (*string, error)
	GetScheduledArrivals(ctx context.Context, tripIds []string) (map[string]map[string]string, error)
}

// sqlScheduleStore reads stop names and stop times from the database
type sqlScheduleStore struct {
	db *sqlx.DB
}

func (s *sqlScheduleStore) GetStopName(ctx context.Context, stopId string) (*string, error) {
	return gtfs.GetStopName(ctx, s.db, stopId)
}

func (s *sqlScheduleStore) GetScheduledArrivals(ctx context.Context,
	tripIds []string) (map[string]map[string]string, error) {
	return gtfs.GetScheduledArrivals(ctx, s.db, tripIds)
}

const (
	stopNameCacheLabel = "stop_name"
	scheduleCacheLabel = "schedule"
)

// scheduleCache keeps stop names and trip schedules found in the scheduleStore.
// Only found values are kept, a miss is looked up again on the next request.
// Entries are evicted least recently used beyond size, and after expiration if expiration is not zero
type scheduleCache struct {
	log       *logger.Logger
	store     scheduleStore
	metrics   *metricsCollector
	stopNames gcache.Cache
	schedules gcache.Cache
}

// makeScheduleCache builds scheduleCache
func makeScheduleCache(log *logger.Logger,
	store scheduleStore,
	metrics *metricsCollector,
	size int,
	expiration time.Duration) *scheduleCache {
	return &scheduleCache{
		log:       log,
		store:     store,
		metrics:   metrics,
		stopNames: buildCache(size, expiration),
		schedules: buildCache(size, expiration),
	}
}

func buildCache(size int, expiration time.Duration) gcache.Cache {
	builder := gcache.New(size).LRU()
	if expiration > 0 {
		builder = builder.Expiration(expiration)
	}
	return builder.Build()
}

// lookupStopName returns the name of stopId or nil if the stop is unknown or the store failed
func (c *scheduleCache) lookupStopName(ctx context.Context, stopId string) *string {
	if cached, err := c.stopNames.Get(stopId); err == nil {
		c.metrics.cacheLookup(stopNameCacheLabel, true)
		name := cached.(string)
		return &name
	}
	c.metrics.cacheLookup(stopNameCacheLabel, false)

	name, err := c.store.GetStopName(ctx, stopId)
	if err != nil {
		c.log.Printf("error getting stop name for %s: %v", stopId, err)
		return nil
	}
	if name == nil {
		return nil
	}
	if err = c.stopNames.Set(stopId, *name); err != nil {
		c.log.Printf("error caching stop name for %s: %v", stopId, err)
	}
	return name
}

// lookupScheduleForTrip returns the stop id to arrival time map of tripId or nil if no schedule was found
func (c *scheduleCache) lookupScheduleForTrip(ctx context.Context, tripId string) map[string]string {
	if cached, err := c.schedules.Get(tripId); err == nil {
		c.metrics.cacheLookup(scheduleCacheLabel, true)
		return cached.(map[string]string)
	}
	c.metrics.cacheLookup(scheduleCacheLabel, false)

	schedules, err := c.store.GetScheduledArrivals(ctx, []string{tripId})
	if err != nil {
		c.log.Printf("error querying schedule for trip %s: %v", tripId, err)
		return nil
	}
	schedule := schedules[tripId]
	if len(schedule) == 0 {
		return nil
	}
	if err = c.schedules.Set(tripId, schedule); err != nil {
		c.log.Printf("error caching schedule for trip %s: %v", tripId, err)
	}
	return schedule
}
