package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alichu45/socialbot/internal/config"
	"github.com/alichu45/socialbot/internal/models"
	"github.com/alichu45/socialbot/internal/platform"
)

// Ingestor periodically pulls each active account's inbox through its
// adapter and upserts the items. The inbox cursor only advances after a
// page has been persisted, so upstream delivery is at-least-once and the
// natural-key upsert makes the stored result exactly-once.
type Ingestor struct {
	config      *config.IngestConfig
	db          *gorm.DB
	logger      *zap.Logger
	registry    *platform.Registry
	credentials *CredentialStore
	monitoring  *MonitoringService

	ticker *time.Ticker
	stopCh chan struct{}
}

func NewIngestor(cfg *config.IngestConfig, db *gorm.DB, logger *zap.Logger, registry *platform.Registry, credentials *CredentialStore, monitoring *MonitoringService) *Ingestor {
	return &Ingestor{
		config:      cfg,
		db:          db,
		logger:      logger,
		registry:    registry,
		credentials: credentials,
		monitoring:  monitoring,
		stopCh:      make(chan struct{}),
	}
}

func (g *Ingestor) Start(ctx context.Context) error {
	if !g.config.IsEnabled() {
		g.logger.Info("Ingestor is disabled")
		return nil
	}

	interval, err := time.ParseDuration(g.config.Interval)
	if err != nil {
		g.logger.Error("Invalid ingest interval", zap.String("interval", g.config.Interval), zap.Error(err))
		return err
	}

	g.logger.Info("Starting ingestor", zap.String("interval", g.config.Interval))

	g.ticker = time.NewTicker(interval)

	// Run first cycle immediately
	go func() {
		if err := g.IngestAll(ctx); err != nil {
			g.logger.Error("Initial ingest cycle failed", zap.Error(err))
		}
	}()

	go func() {
		for {
			select {
			case <-g.ticker.C:
				if err := g.IngestAll(ctx); err != nil {
					g.logger.Error("Ingest cycle failed", zap.Error(err))
				}
			case <-g.stopCh:
				g.logger.Info("Ingestor stopped")
				return
			case <-ctx.Done():
				g.logger.Info("Ingestor context cancelled")
				return
			}
		}
	}()

	return nil
}

func (g *Ingestor) Stop() {
	if g.ticker != nil {
		g.ticker.Stop()
	}
	close(g.stopCh)
	g.logger.Info("Ingestor shutdown completed")
}

// IngestAll runs one ingestion cycle over every active account. One broken
// account never blocks the others.
func (g *Ingestor) IngestAll(ctx context.Context) error {
	var accounts []models.SocialAccount
	if err := g.db.WithContext(ctx).
		Where("status = ?", models.AccountStatusActive).
		Order("id ASC").
		Find(&accounts).Error; err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	start := time.Now()
	var ingested, skipped int
	for i := range accounts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := g.IngestAccount(ctx, &accounts[i])
		if err != nil {
			skipped++
			g.logger.Warn("Account ingestion failed, continuing with remaining accounts",
				zap.Uint("account_id", accounts[i].ID),
				zap.String("platform", accounts[i].Platform.String()),
				zap.Error(err))
			continue
		}
		ingested += n
	}

	g.logger.Info("Ingest cycle completed",
		zap.Int("accounts", len(accounts)),
		zap.Int("items", ingested),
		zap.Int("skipped_accounts", skipped),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// IngestAccount pages through one account's inbox from its stored cursor.
// Returns how many items the platform reported (including re-deliveries).
func (g *Ingestor) IngestAccount(ctx context.Context, account *models.SocialAccount) (int, error) {
	creds, err := g.credentials.ValidToken(ctx, account.ID)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenRevoked) {
			// Degraded account: skip quietly until re-auth.
			return 0, fmt.Errorf("credentials unavailable: %w", err)
		}
		return 0, err
	}

	adapter, err := g.registry.Get(account.Platform)
	if err != nil {
		return 0, err
	}

	cursor := account.LastInboxCursor
	total := 0
	for page := 0; page < g.config.MaxPages; page++ {
		inbox, err := adapter.FetchInbox(ctx, creds, account.ExternalID, cursor)
		if err != nil {
			if platform.IsAuthRejected(err) {
				if derr := g.credentials.MarkDegraded(ctx, account.ID); derr != nil {
					g.logger.Error("Failed to degrade account", zap.Uint("account_id", account.ID), zap.Error(derr))
				}
			}
			g.monitoring.RecordError("WARN", "ingestor", "Inbox fetch failed", err.Error(),
				WithPlatform(account.Platform), WithAccount(account.ID))
			return total, err
		}

		if len(inbox.Items) > 0 {
			if err := g.persistBatch(ctx, account, inbox.Items); err != nil {
				// Cursor stays put; the batch will be re-fetched and the
				// upsert keeps it idempotent.
				return total, err
			}
			total += len(inbox.Items)
		}

		if inbox.NextCursor != "" {
			cursor = inbox.NextCursor
		}
		if err := g.advanceCursor(ctx, account.ID, cursor); err != nil {
			return total, err
		}

		if !inbox.HasMore {
			break
		}
	}

	return total, nil
}

// persistBatch upserts items by (platform, platform_item_id). Re-delivered
// items are left untouched so replied flags survive re-ingestion.
func (g *Ingestor) persistBatch(ctx context.Context, account *models.SocialAccount, items []platform.InboundItem) error {
	rows := make([]models.InboundItem, 0, len(items))
	for _, item := range items {
		row := models.InboundItem{
			UserID:         account.UserID,
			AccountID:      account.ID,
			Platform:       account.Platform,
			PlatformItemID: item.PlatformItemID,
			Kind:           item.Kind,
			SenderID:       item.SenderID,
			SenderName:     item.SenderName,
			Content:        item.Content,
			ReceivedAt:     item.ReceivedAt,
		}
		if row.ReceivedAt.IsZero() {
			row.ReceivedAt = time.Now()
		}
		if item.ParentPostID != "" {
			row.PostID = g.resolvePost(ctx, account.ID, item.ParentPostID)
		}
		rows = append(rows, row)
	}

	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform"}, {Name: "platform_item_id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to persist inbound batch: %w", err)
	}
	return nil
}

// resolvePost maps a platform-native parent post ID to a local post, when
// the comment is on something we published.
func (g *Ingestor) resolvePost(ctx context.Context, accountID uint, platformPostID string) *uint {
	var post models.Post
	err := g.db.WithContext(ctx).
		Select("id").
		Where("account_id = ? AND platform_post_id = ?", accountID, platformPostID).
		First(&post).Error
	if err != nil {
		return nil
	}
	return &post.ID
}

func (g *Ingestor) advanceCursor(ctx context.Context, accountID uint, cursor string) error {
	now := time.Now()
	err := g.db.WithContext(ctx).
		Model(&models.SocialAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"last_inbox_cursor": cursor,
			"last_fetched_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to advance inbox cursor: %w", err)
	}
	return nil
}
