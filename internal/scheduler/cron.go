package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/amaumene/gostreamd/internal/models"
	"github.com/amaumene/gostreamd/internal/services/origin"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler manages scheduled tasks
type Scheduler struct {
	cron                  *cron.Cron
	origin                *origin.Client
	db                    *models.Database
	progressRetentionDays int
	logger                *logrus.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(originClient *origin.Client, db *models.Database, progressRetentionDays int, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:                  cron.New(),
		origin:                originClient,
		db:                    db,
		progressRetentionDays: progressRetentionDays,
		logger:                logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler")

	// Every minute: probe origin reachability
	_, err := s.cron.AddFunc("* * * * *", func() {
		s.runOriginProbe()
	})
	if err != nil {
		return fmt.Errorf("failed to add origin probe job: %w", err)
	}

	// Daily at 03:00: drop stale resume positions
	_, err = s.cron.AddFunc("0 3 * * *", func() {
		s.runProgressCleanup()
	})
	if err != nil {
		return fmt.Errorf("failed to add progress cleanup job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")

	// Probe immediately so /status is meaningful from the first request
	go s.runOriginProbe()

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cron.Stop()
}

// runOriginProbe executes the origin health probe job
func (s *Scheduler) runOriginProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.origin.Probe(ctx); err != nil {
		s.logger.WithError(err).Warn("Origin probe failed")
	}
}

// runProgressCleanup executes the stale progress cleanup job
func (s *Scheduler) runProgressCleanup() {
	retention := time.Duration(s.progressRetentionDays) * 24 * time.Hour

	removed, err := s.db.DeleteStaleProgress(retention)
	if err != nil {
		s.logger.WithError(err).Error("Progress cleanup failed")
		return
	}

	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Stale resume positions removed")
	}
}
