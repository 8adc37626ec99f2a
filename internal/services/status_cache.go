package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/crucibleworks/crucible-backend/internal/platform/envutil"
	"github.com/crucibleworks/crucible-backend/internal/platform/logger"
)

const statusKeyPrefix = "crucible:job_status:"

// StatusSnapshot is the short-lived, frontend-pollable view of a running
// job. It is a cache, not the source of truth; the job row is.
type StatusSnapshot struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Progress int    `json:"progress"`
}

// StatusCache publishes job progress snapshots with a TTL so abandoned
// keys expire on their own. All operations are best-effort from the
// worker's point of view; a cache outage never fails a run.
type StatusCache interface {
	Set(ctx context.Context, jobID uuid.UUID, snap StatusSnapshot) error
	Get(ctx context.Context, jobID uuid.UUID) (*StatusSnapshot, error)
	Clear(ctx context.Context, jobID uuid.UUID) error
}

type statusCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewStatusCache connects to redis via REDIS_ADDR. TTL comes from
// JOB_STATUS_TTL (default one hour).
func NewStatusCache(baseLog *logger.Logger) (StatusCache, error) {
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DB:          envutil.Int("REDIS_DB", 0),
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStatusCacheWithClient(baseLog, rdb, envutil.Duration("JOB_STATUS_TTL", time.Hour)), nil
}

// NewStatusCacheWithClient wraps an existing client; tests use this.
func NewStatusCacheWithClient(baseLog *logger.Logger, rdb *goredis.Client, ttl time.Duration) StatusCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &statusCache{
		log: baseLog.With("service", "StatusCache"),
		rdb: rdb,
		ttl: ttl,
	}
}

func statusKey(jobID uuid.UUID) string {
	return statusKeyPrefix + jobID.String()
}

func (c *statusCache) Set(ctx context.Context, jobID uuid.UUID, snap StatusSnapshot) error {
	if snap.Progress < 0 {
		snap.Progress = 0
	}
	if snap.Progress > 100 {
		snap.Progress = 100
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, statusKey(jobID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("Status update failed", "job_id", jobID.String(), "error", err)
		return err
	}
	return nil
}

func (c *statusCache) Get(ctx context.Context, jobID uuid.UUID) (*StatusSnapshot, error) {
	raw, err := c.rdb.Get(ctx, statusKey(jobID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap StatusSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *statusCache) Clear(ctx context.Context, jobID uuid.UUID) error {
	return c.rdb.Del(ctx, statusKey(jobID)).Err()
}
