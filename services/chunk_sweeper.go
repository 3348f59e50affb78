package services

import (
	"context"
	"fmt"
	"time"

	awspkg "github.com/lakhoreJanvi/product-importer-project/pkg/aws"
	"github.com/lakhoreJanvi/product-importer-project/repository"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultChunkRetention = 24 * time.Hour
	DefaultSweepSchedule  = "@every 10m"
)

// ChunkSweeper periodically purges uploads that were never finalized.
type ChunkSweeper struct {
	chunks    repository.ChunkStore
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	metrics   *awspkg.MetricsClient
	log       *zap.Logger
	now       func() time.Time
}

func NewChunkSweeper(chunks repository.ChunkStore, retention time.Duration, schedule string, metrics *awspkg.MetricsClient, log *zap.Logger) *ChunkSweeper {
	if retention <= 0 {
		retention = DefaultChunkRetention
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &ChunkSweeper{
		chunks:    chunks,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(),
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// Start registers the sweep and starts the scheduler.
func (s *ChunkSweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		_, _ = s.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.Info("chunk sweeper started", zap.String("schedule", s.schedule), zap.Duration("retention", s.retention))
	return nil
}

// Stop stops the scheduler and waits for a running sweep.
func (s *ChunkSweeper) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("chunk sweeper stopped")
}

// Sweep removes every upload idle for longer than the retention window.
func (s *ChunkSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.chunks.PurgeStale(ctx, cutoff)
	if err != nil {
		s.log.Error("chunk sweep failed", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		s.log.Info("purged stale chunks", zap.Int64("chunks", n), zap.Time("cutoff", cutoff))
		_ = s.metrics.RecordValue(ctx, awspkg.MetricChunksPurged, float64(n), nil)
	}
	return n, nil
}
