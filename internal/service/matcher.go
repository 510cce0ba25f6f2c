package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alichu45/socialbot/internal/config"
	"github.com/alichu45/socialbot/internal/models"
	"github.com/alichu45/socialbot/internal/platform"
	"github.com/alichu45/socialbot/pkg/textutil"
)

// Matcher evaluates active auto-reply rules against unreplied inbound
// items and sends the winning rule's response. Rules are read-only here.
type Matcher struct {
	config      *config.MatcherConfig
	db          *gorm.DB
	logger      *zap.Logger
	registry    *platform.Registry
	credentials *CredentialStore
	monitoring  *MonitoringService

	retryWindow time.Duration

	ticker *time.Ticker
	stopCh chan struct{}
}

func NewMatcher(cfg *config.MatcherConfig, db *gorm.DB, logger *zap.Logger, registry *platform.Registry, credentials *CredentialStore, monitoring *MonitoringService) *Matcher {
	retryWindow, err := time.ParseDuration(cfg.RetryWindow)
	if err != nil {
		retryWindow = 10 * time.Minute
	}

	return &Matcher{
		config:      cfg,
		db:          db,
		logger:      logger,
		registry:    registry,
		credentials: credentials,
		monitoring:  monitoring,
		retryWindow: retryWindow,
		stopCh:      make(chan struct{}),
	}
}

func (m *Matcher) Start(ctx context.Context) error {
	if !m.config.IsEnabled() {
		m.logger.Info("Matcher is disabled")
		return nil
	}

	interval, err := time.ParseDuration(m.config.Interval)
	if err != nil {
		m.logger.Error("Invalid matcher interval", zap.String("interval", m.config.Interval), zap.Error(err))
		return err
	}

	m.logger.Info("Starting matcher", zap.String("interval", m.config.Interval))

	m.ticker = time.NewTicker(interval)

	// Run first cycle immediately
	go func() {
		if err := m.MatchAll(ctx); err != nil {
			m.logger.Error("Initial match cycle failed", zap.Error(err))
		}
	}()

	go func() {
		for {
			select {
			case <-m.ticker.C:
				if err := m.MatchAll(ctx); err != nil {
					m.logger.Error("Match cycle failed", zap.Error(err))
				}
			case <-m.stopCh:
				m.logger.Info("Matcher stopped")
				return
			case <-ctx.Done():
				m.logger.Info("Matcher context cancelled")
				return
			}
		}
	}()

	return nil
}

func (m *Matcher) Stop() {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	close(m.stopCh)
	m.logger.Info("Matcher shutdown completed")
}

// MatchAll runs one matching pass over every account that has active
// rules, in per-account received_at order.
func (m *Matcher) MatchAll(ctx context.Context) error {
	var rules []models.AutoReply
	if err := m.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&rules).Error; err != nil {
		return fmt.Errorf("failed to load active rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	byAccount := make(map[uint][]models.AutoReply)
	for _, rule := range rules {
		byAccount[rule.AccountID] = append(byAccount[rule.AccountID], rule)
	}

	accountIDs := make([]uint, 0, len(byAccount))
	for id := range byAccount {
		accountIDs = append(accountIDs, id)
	}
	sort.Slice(accountIDs, func(i, j int) bool { return accountIDs[i] < accountIDs[j] })

	for _, accountID := range accountIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := m.matchAccount(ctx, accountID, byAccount[accountID]); err != nil {
			m.logger.Warn("Account matching failed, continuing with remaining accounts",
				zap.Uint("account_id", accountID),
				zap.Error(err))
		}
	}

	return nil
}

func (m *Matcher) matchAccount(ctx context.Context, accountID uint, rules []models.AutoReply) error {
	var account models.SocialAccount
	if err := m.db.WithContext(ctx).First(&account, accountID).Error; err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account.Degraded() {
		return nil
	}

	// Items that burned their attempt budget wait out the retry window
	// instead of storming the platform.
	retryCutoff := time.Now().Add(-m.retryWindow)
	var items []models.InboundItem
	err := m.db.WithContext(ctx).
		Where("account_id = ? AND replied = ?", accountID, false).
		Where("reply_attempts < ? OR last_reply_try IS NULL OR last_reply_try < ?",
			m.config.MaxReplyAttempts, retryCutoff).
		Order("received_at ASC, id ASC").
		Limit(m.config.BatchSize).
		Find(&items).Error
	if err != nil {
		return fmt.Errorf("failed to load unreplied items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	creds, err := m.credentials.ValidToken(ctx, accountID)
	if err != nil {
		return fmt.Errorf("credentials unavailable: %w", err)
	}

	adapter, err := m.registry.Get(account.Platform)
	if err != nil {
		return err
	}

	for i := range items {
		item := &items[i]
		rule := EvaluateRules(rules, item)
		if rule == nil {
			// No active rule covers this item; that is not an error, it
			// just stays unreplied.
			continue
		}

		if err := m.reply(ctx, adapter, creds, item, rule); err != nil {
			if platform.IsAuthRejected(err) {
				if derr := m.credentials.MarkDegraded(ctx, accountID); derr != nil {
					m.logger.Error("Failed to degrade account", zap.Uint("account_id", accountID), zap.Error(derr))
				}
				return err
			}
		}
	}

	return nil
}

func (m *Matcher) reply(ctx context.Context, adapter platform.Adapter, creds platform.Credentials, item *models.InboundItem, rule *models.AutoReply) error {
	err := adapter.Reply(ctx, creds, item.PlatformItemID, rule.ResponseText)
	if err != nil {
		now := time.Now()
		if uerr := m.db.WithContext(ctx).
			Model(&models.InboundItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]any{
				"reply_attempts": gorm.Expr("reply_attempts + 1"),
				"last_reply_try": now,
			}).Error; uerr != nil {
			m.logger.Error("Failed to record reply attempt", zap.Uint("item_id", item.ID), zap.Error(uerr))
		}
		m.monitoring.RecordError("WARN", "matcher", "Auto-reply failed", err.Error(),
			WithPlatform(item.Platform), WithAccount(item.AccountID), WithItem(item.ID))
		m.logger.Warn("Auto-reply failed",
			zap.Uint("item_id", item.ID),
			zap.Uint("rule_id", rule.ID),
			zap.Error(err))
		return err
	}

	// The replied flag only flips together with the reply's completion, so
	// a crash in between re-runs the item rather than losing the reply.
	now := time.Now()
	if err := m.db.WithContext(ctx).
		Model(&models.InboundItem{}).
		Where("id = ? AND replied = ?", item.ID, false).
		Updates(map[string]any{
			"replied":    true,
			"reply_text": rule.ResponseText,
			"replied_at": now,
		}).Error; err != nil {
		return fmt.Errorf("failed to mark item replied: %w", err)
	}

	m.logger.Info("Auto-reply sent",
		zap.Uint("item_id", item.ID),
		zap.Uint("rule_id", rule.ID),
		zap.String("trigger_type", rule.TriggerType))

	return nil
}

// triggerPriority orders rule evaluation: keyword rules first, then
// message-type rules, catch-all rules last.
func triggerPriority(triggerType string) int {
	switch triggerType {
	case models.TriggerKeyword:
		return 0
	case models.TriggerMessageType:
		return 1
	case models.TriggerAll:
		return 2
	}
	return 3
}

// EvaluateRules picks the winning rule for an item: highest trigger
// priority first, rule id ascending on ties, first match wins. Total and
// deterministic for a given rule set and item.
func EvaluateRules(rules []models.AutoReply, item *models.InboundItem) *models.AutoReply {
	ordered := make([]models.AutoReply, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := triggerPriority(ordered[i].TriggerType), triggerPriority(ordered[j].TriggerType)
		if pi != pj {
			return pi < pj
		}
		return ordered[i].ID < ordered[j].ID
	})

	for i := range ordered {
		rule := &ordered[i]
		if !rule.IsActive {
			continue
		}
		switch rule.TriggerType {
		case models.TriggerKeyword:
			if textutil.ContainsKeyword(item.Content, rule.TriggerValue) {
				return rule
			}
		case models.TriggerMessageType:
			if rule.TriggerValue == item.Kind {
				return rule
			}
		case models.TriggerAll:
			return rule
		}
	}
	return nil
}
