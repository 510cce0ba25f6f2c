package service

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alichu45/socialbot/internal/models"
)

// MonitoringService persists per-entity failures so the presentation layer
// can surface them. Recording an error must never take the caller down, so
// write failures are only logged.
type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
	}
}

// ErrorLogOption attaches context to an error record.
type ErrorLogOption func(*models.ErrorLog)

func WithPlatform(p models.Platform) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.Platform = p
	}
}

func WithAccount(accountID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.AccountID = &accountID
	}
}

func WithPost(postID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.PostID = &postID
	}
}

func WithItem(itemID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ItemID = &itemID
	}
}

func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}

	if err := m.db.Create(errorLog).Error; err != nil {
		m.logger.Error("Failed to record error log", zap.Error(err))
	}
}

// RecentErrors returns the newest unresolved-first error records.
func (m *MonitoringService) RecentErrors(limit int) ([]models.ErrorLog, error) {
	var errs []models.ErrorLog
	err := m.db.
		Order("resolved ASC, created_at DESC").
		Limit(limit).
		Find(&errs).Error
	return errs, err
}

// Resolve marks an error record as handled.
func (m *MonitoringService) Resolve(errorID uint) error {
	now := time.Now()
	return m.db.
		Model(&models.ErrorLog{}).
		Where("id = ?", errorID).
		Updates(map[string]any{"resolved": true, "resolved_at": now}).Error
}
