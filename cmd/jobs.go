package main

import (
	"context"

	"go.uber.org/zap"

	"poolwatch/internal/jobs"
	"poolwatch/pkg/lock"
	"poolwatch/pkg/logger"
)

func (app *Application) initJobs() error {
	manager := jobs.NewManager(app.ctx)

	// Replicas sharing a Redis channel must not all generate demo events.
	// Without Redis the lock downgrades to single-instance mode.
	if app.generator != nil {
		demoLock := lock.NewRedisLock(app.redisClient, "demo:generator-lock")
		manager.Register(jobs.WithLock(app.generator, demoLock))
	}

	manager.Register(&jobs.Func{
		JobName:  "engine-stats",
		Every:    app.config.Engine.StatsInterval,
		Aligned:  true,
		Function: app.logEngineStats,
	})

	app.jobsManager = manager
	return nil
}

// logEngineStats reports engine counters and stream errors
func (app *Application) logEngineStats(_ context.Context) error {
	st := app.engine.Status()
	logger.Info("reconcile engine stats",
		zap.Uint64("revision", st.Revision),
		zap.Any("counts", st.Counts),
		zap.Any("accepted", st.Accepted),
		zap.Int("coalesced", st.Coalesced),
		zap.Int("dropped", st.Dropped),
		zap.Int("pending", st.Pending),
		zap.Uint64("cache_hits", st.CacheHits),
		zap.Uint64("cache_misses", st.CacheMisses),
	)
	for _, se := range st.StreamErrors {
		logger.Warn("stream reporting errors",
			zap.String("stream", string(se.Stream)),
			zap.Int("count", se.Count),
			zap.String("last_error", se.Message),
			zap.Time("last_at", se.LastAt),
		)
	}
	return nil
}
