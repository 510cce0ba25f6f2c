package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StatsUpdater handles periodic statistics updates
type StatsUpdater struct {
	analytics *AnalyticsService
	logger    *zap.Logger
	ticker    *time.Ticker
	done      chan bool
}

// NewStatsUpdater creates a new stats updater
func NewStatsUpdater(analytics *AnalyticsService, logger *zap.Logger, interval time.Duration) *StatsUpdater {
	return &StatsUpdater{
		analytics: analytics,
		logger:    logger,
		ticker:    time.NewTicker(interval),
		done:      make(chan bool),
	}
}

// Start begins the periodic stats update process
func (s *StatsUpdater) Start(ctx context.Context) {
	go func() {
		s.logger.Info("Starting stats updater")
		for {
			select {
			case <-s.done:
				s.logger.Info("Stats updater stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Stats updater stopped due to context cancellation")
				return
			case <-s.ticker.C:
				s.updateStats(ctx)
			}
		}
	}()
}

// Stop stops the stats updater
func (s *StatsUpdater) Stop() {
	s.ticker.Stop()
	close(s.done)
}

// updateStats performs the actual stats update
func (s *StatsUpdater) updateStats(ctx context.Context) {
	s.logger.Debug("Updating statistics")

	// Pull comment counts onto posted posts before rolling up
	if err := s.analytics.RefreshEngagement(ctx); err != nil {
		s.logger.Error("Failed to refresh engagement counters", zap.Error(err))
	}

	if err := s.analytics.UpdateAccountStats(ctx); err != nil {
		s.logger.Error("Failed to update account stats", zap.Error(err))
	}

	s.logger.Debug("Statistics updated successfully")
}
