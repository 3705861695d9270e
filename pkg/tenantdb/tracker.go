package tenantdb

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Operation string

const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
	OpCount  Operation = "count"
	OpExists Operation = "exists"
	OpVerify Operation = "verify"
)

// Observation describes one completed operation.
type Observation struct {
	TenantID  string
	Table     string
	Operation Operation
	Duration  time.Duration
	Rows      int64
	Err       error
}

// Tracker receives an Observation after every operation. Implementations
// must not block; their outcome never reaches the caller.
type Tracker interface {
	Track(ctx context.Context, obs Observation)
}

type TrackerFunc func(ctx context.Context, obs Observation)

func (f TrackerFunc) Track(ctx context.Context, obs Observation) {
	f(ctx, obs)
}

// Chain fans an observation out to every non-nil tracker.
func Chain(trackers ...Tracker) Tracker {
	filtered := make([]Tracker, 0, len(trackers))
	for _, t := range trackers {
		if t != nil {
			filtered = append(filtered, t)
		}
	}
	return TrackerFunc(func(ctx context.Context, obs Observation) {
		for _, t := range filtered {
			t.Track(ctx, obs)
		}
	})
}

// SlowLog logs operations slower than threshold at warn level.
func SlowLog(log *zap.Logger, threshold func() time.Duration) Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("tenantdb.slow")
	return TrackerFunc(func(ctx context.Context, obs Observation) {
		limit := threshold()
		if limit <= 0 || obs.Duration < limit {
			return
		}
		log.Warn("slow tenant query",
			zap.String("tenant_id", obs.TenantID),
			zap.String("table", obs.Table),
			zap.String("operation", string(obs.Operation)),
			zap.Int64("duration_ms", obs.Duration.Milliseconds()),
			zap.Int64("rows", obs.Rows),
		)
	})
}
