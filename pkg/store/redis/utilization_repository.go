package redis

import (
	"context"
	"errors"
	"strconv"

	"devicefarm/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const utilizationKeyPrefix = "utilization:"

// UtilizationRepository stores accumulated device utilization as plain string keys
type UtilizationRepository struct {
	client *redis.Client
}

// NewUtilizationRepository creates a utilization repository
func NewUtilizationRepository(client *redis.Client) *UtilizationRepository {
	return &UtilizationRepository{client: client}
}

func utilizationKey(udid string) string {
	return utilizationKeyPrefix + udid
}

// Get returns the utilization in milliseconds. Missing, non-numeric or unreadable values yield 0.
func (r *UtilizationRepository) Get(ctx context.Context, udid string) int64 {
	raw, err := r.client.Get(ctx, utilizationKey(udid)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.WarnCtx(ctx, "failed to read utilization for %s: %v", udid, err)
		}
		return 0
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			logger.DebugCtx(ctx, "ignoring non-numeric utilization for %s: %q", udid, raw)
			return 0
		}
		ms = int64(f)
	}
	return ms
}

// Set stores the utilization in milliseconds
func (r *UtilizationRepository) Set(ctx context.Context, udid string, ms int64) error {
	return r.client.Set(ctx, utilizationKey(udid), ms, 0).Err()
}
