package gtfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// VehiclePositionKey is the redis key holding the snapshot of tripId's vehicle
func VehiclePositionKey(keyPrefix string, tripId string) string {
	return keyPrefix + tripId
}

// CacheVehiclePositions writes positions to redis as json in a single pipeline, replacing prior snapshots.
// Keys expire after ttl, a ttl of zero keeps them until overwritten
func CacheVehiclePositions(ctx context.Context,
	rdb redis.Cmdable,
	keyPrefix string,
	ttl time.Duration,
	positions []*VehiclePosition) error {

	_, err := rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, position := range positions {
			jsonData, err := json.Marshal(position)
			if err != nil {
				return fmt.Errorf("unable to marshal vehicle position for trip %s: %w", position.TripId, err)
			}
			pipe.Set(ctx, VehiclePositionKey(keyPrefix, position.TripId), jsonData, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to cache %d vehicle positions: %w", len(positions), err)
	}
	return nil
}

// GetCachedVehiclePosition reads the snapshot of tripId's vehicle from redis, returns nil if none is present
func GetCachedVehiclePosition(ctx context.Context,
	rdb redis.Cmdable,
	keyPrefix string,
	tripId string) (*VehiclePosition, error) {

	jsonData, err := rdb.Get(ctx, VehiclePositionKey(keyPrefix, tripId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var position VehiclePosition
	if err = json.Unmarshal(jsonData, &position); err != nil {
		return nil, fmt.Errorf("unable to read vehicle position for trip %s: %w", tripId, err)
	}
	return &position, nil
}
