package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"

	"qrclinic/internal/config"
)

const geoLiteCheckInterval = 24 * time.Hour

// Scheduler runs the background jobs. Implements cartridge.BackgroundWorker.
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       *config.Config
	isRunning bool

	// one job at a time; SQLite has a single writer
	processingMutex sync.Mutex
	isProcessing    bool

	demoCleanup    *DemoCleanupJob
	geoLiteUpdater *GeoLiteUpdaterJob

	wg sync.WaitGroup
}

func NewScheduler(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		cfg:            cfg,
		demoCleanup:    NewDemoCleanupJob(dbManager, logger, cfg),
		geoLiteUpdater: NewGeoLiteUpdaterJob(dbManager, logger, cfg),
	}
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}
	s.isRunning = true

	cleanupInterval := time.Duration(s.cfg.JobIntervalSeconds) * time.Second
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	s.every("demo_cleanup", cleanupInterval, func() error {
		_, err := s.demoCleanup.Run()
		return err
	})
	s.every("geolite_updater", geoLiteCheckInterval, func() error {
		return s.geoLiteUpdater.Run(s.ctx)
	})

	s.logger.Info("Background jobs started", slog.Duration("cleanup_interval", cleanupInterval))
	return nil
}

// every runs job once now and then on each tick until Stop.
func (s *Scheduler) every(name string, interval time.Duration, job func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.executeJobSafely(name, job)
		for {
			select {
			case <-ticker.C:
				s.executeJobSafely(name, job)
			case <-s.ctx.Done():
				s.logger.Info("Background job stopped", slog.String("job", name))
				return
			}
		}
	}()
}

// Stop halts all background jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.cancel()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
