package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alichu45/socialbot/internal/models"
)

// AnalyticsService computes read-only rollups over posts and inbound
// items. It never mutates anything except the materialized stats tables
// and the engagement counters on posted posts.
type AnalyticsService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAnalyticsService(db *gorm.DB, logger *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		db:     db,
		logger: logger,
	}
}

// AnalyticsFilter scopes a report. UserID is mandatory; account and
// campaign narrow it further.
type AnalyticsFilter struct {
	UserID     uint
	AccountID  *uint
	CampaignID *uint
}

type AnalyticsReport struct {
	PostsByStatus  map[string]int64 `json:"posts_by_status"`
	TotalLikes     int64            `json:"total_likes"`
	TotalComments  int64            `json:"total_comments"`
	TotalShares    int64            `json:"total_shares"`
	InboundTotal   int64            `json:"inbound_total"`
	InboundReplied int64            `json:"inbound_replied"`
	ReplyRate      float64          `json:"reply_rate"`
}

// Analytics builds the report for a filter. New accounts with no data get
// an all-zero report, never a division by zero.
func (s *AnalyticsService) Analytics(ctx context.Context, filter AnalyticsFilter) (*AnalyticsReport, error) {
	if filter.UserID == 0 {
		return nil, errors.New("user id is required")
	}

	report := &AnalyticsReport{
		PostsByStatus: make(map[string]int64),
	}

	posts := s.postScope(ctx, filter)

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	if err := posts.Select("status, COUNT(*) AS count").Group("status").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count posts by status: %w", err)
	}
	for _, c := range counts {
		report.PostsByStatus[c.Status] = c.Count
	}

	type engagement struct {
		Likes    int64
		Comments int64
		Shares   int64
	}
	var eng engagement
	if err := s.postScope(ctx, filter).
		Select("COALESCE(SUM(likes),0) AS likes, COALESCE(SUM(comments),0) AS comments, COALESCE(SUM(shares),0) AS shares").
		Scan(&eng).Error; err != nil {
		return nil, fmt.Errorf("failed to sum engagement: %w", err)
	}
	report.TotalLikes = eng.Likes
	report.TotalComments = eng.Comments
	report.TotalShares = eng.Shares

	items := s.itemScope(ctx, filter)
	if err := items.Count(&report.InboundTotal).Error; err != nil {
		return nil, fmt.Errorf("failed to count inbound items: %w", err)
	}
	if err := s.itemScope(ctx, filter).Where("replied = ?", true).Count(&report.InboundReplied).Error; err != nil {
		return nil, fmt.Errorf("failed to count replied items: %w", err)
	}
	if report.InboundTotal > 0 {
		report.ReplyRate = float64(report.InboundReplied) / float64(report.InboundTotal)
	}

	return report, nil
}

func (s *AnalyticsService) postScope(ctx context.Context, filter AnalyticsFilter) *gorm.DB {
	scope := s.db.WithContext(ctx).Model(&models.Post{}).Where("posts.user_id = ?", filter.UserID)
	if filter.AccountID != nil {
		scope = scope.Where("posts.account_id = ?", *filter.AccountID)
	}
	if filter.CampaignID != nil {
		scope = scope.Joins("JOIN campaign_posts ON campaign_posts.post_id = posts.id").
			Where("campaign_posts.campaign_id = ?", *filter.CampaignID)
	}
	return scope
}

func (s *AnalyticsService) itemScope(ctx context.Context, filter AnalyticsFilter) *gorm.DB {
	scope := s.db.WithContext(ctx).Model(&models.InboundItem{}).Where("inbound_items.user_id = ?", filter.UserID)
	if filter.AccountID != nil {
		scope = scope.Where("inbound_items.account_id = ?", *filter.AccountID)
	}
	if filter.CampaignID != nil {
		scope = scope.Joins("JOIN campaign_posts ON campaign_posts.post_id = inbound_items.post_id").
			Where("campaign_posts.campaign_id = ?", *filter.CampaignID)
	}
	return scope
}

// InboxStatus is the per-account ingestion summary exposed upward.
type InboxStatus struct {
	AccountID     uint       `json:"account_id"`
	Platform      string     `json:"platform"`
	AccountStatus string     `json:"account_status"`
	Total         int64      `json:"total"`
	Replied       int64      `json:"replied"`
	Pending       int64      `json:"pending"`
	Cursor        string     `json:"cursor"`
	LastFetchedAt *time.Time `json:"last_fetched_at"`
}

func (s *AnalyticsService) InboxStatus(ctx context.Context, accountID uint) (*InboxStatus, error) {
	var account models.SocialAccount
	if err := s.db.WithContext(ctx).First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	status := &InboxStatus{
		AccountID:     account.ID,
		Platform:      account.Platform.String(),
		AccountStatus: account.Status,
		Cursor:        account.LastInboxCursor,
		LastFetchedAt: account.LastFetchedAt,
	}

	items := s.db.WithContext(ctx).Model(&models.InboundItem{}).Where("account_id = ?", accountID)
	if err := items.Count(&status.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count inbox items: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.InboundItem{}).
		Where("account_id = ? AND replied = ?", accountID, true).
		Count(&status.Replied).Error; err != nil {
		return nil, fmt.Errorf("failed to count replied items: %w", err)
	}
	status.Pending = status.Total - status.Replied

	return status, nil
}

// RefreshEngagement recomputes the comment counters on posted posts from
// the ingested comments linked to them. The only mutation allowed on a
// post after it reaches the posted state.
func (s *AnalyticsService) RefreshEngagement(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("status = ?", models.PostStatusPosted).
		Update("comments", gorm.Expr(
			"(SELECT COUNT(*) FROM inbound_items WHERE inbound_items.post_id = posts.id AND inbound_items.kind = ?)",
			models.InboundKindComment,
		)).Error
}

// UpdateAccountStats materializes today's per-account rollup rows.
func (s *AnalyticsService) UpdateAccountStats(ctx context.Context) error {
	today := time.Now().Truncate(24 * time.Hour)

	var accounts []models.SocialAccount
	if err := s.db.WithContext(ctx).Find(&accounts).Error; err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	for _, account := range accounts {
		var stats models.AccountStats
		result := s.db.WithContext(ctx).
			Where("date = ? AND account_id = ?", today, account.ID).
			First(&stats)

		var scheduled, posted, failed int64
		s.db.WithContext(ctx).Model(&models.Post{}).Where("account_id = ? AND status = ?", account.ID, models.PostStatusScheduled).Count(&scheduled)
		s.db.WithContext(ctx).Model(&models.Post{}).Where("account_id = ? AND status = ?", account.ID, models.PostStatusPosted).Count(&posted)
		s.db.WithContext(ctx).Model(&models.Post{}).Where("account_id = ? AND status = ?", account.ID, models.PostStatusFailed).Count(&failed)

		type engagement struct {
			Likes    int64
			Comments int64
			Shares   int64
		}
		var eng engagement
		s.db.WithContext(ctx).Model(&models.Post{}).
			Where("account_id = ?", account.ID).
			Select("COALESCE(SUM(likes),0) AS likes, COALESCE(SUM(comments),0) AS comments, COALESCE(SUM(shares),0) AS shares").
			Scan(&eng)

		var inbound, replied int64
		s.db.WithContext(ctx).Model(&models.InboundItem{}).Where("account_id = ?", account.ID).Count(&inbound)
		s.db.WithContext(ctx).Model(&models.InboundItem{}).Where("account_id = ? AND replied = ?", account.ID, true).Count(&replied)

		var replyRate float64
		if inbound > 0 {
			replyRate = float64(replied) / float64(inbound)
		}

		var lastPost models.Post
		var lastItem models.InboundItem
		s.db.WithContext(ctx).Where("account_id = ? AND status = ?", account.ID, models.PostStatusPosted).Order("posted_time DESC").First(&lastPost)
		s.db.WithContext(ctx).Where("account_id = ?", account.ID).Order("received_at DESC").First(&lastItem)

		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			stats = models.AccountStats{
				Date:           today,
				AccountID:      account.ID,
				Platform:       account.Platform,
				ScheduledPosts: int(scheduled),
				PostedPosts:    int(posted),
				FailedPosts:    int(failed),
				TotalLikes:     int(eng.Likes),
				TotalComments:  int(eng.Comments),
				TotalShares:    int(eng.Shares),
				InboundItems:   int(inbound),
				RepliedItems:   int(replied),
				ReplyRate:      replyRate,
			}
			if lastPost.ID != 0 {
				stats.LastPostAt = lastPost.PostedTime
			}
			if lastItem.ID != 0 {
				stats.LastInboundAt = &lastItem.ReceivedAt
			}
			if err := s.db.WithContext(ctx).Create(&stats).Error; err != nil {
				return fmt.Errorf("failed to create account stats: %w", err)
			}
			continue
		}

		updates := map[string]any{
			"scheduled_posts": scheduled,
			"posted_posts":    posted,
			"failed_posts":    failed,
			"total_likes":     eng.Likes,
			"total_comments":  eng.Comments,
			"total_shares":    eng.Shares,
			"inbound_items":   inbound,
			"replied_items":   replied,
			"reply_rate":      replyRate,
		}
		if lastPost.ID != 0 {
			updates["last_post_at"] = lastPost.PostedTime
		}
		if lastItem.ID != 0 {
			updates["last_inbound_at"] = lastItem.ReceivedAt
		}
		if err := s.db.WithContext(ctx).Model(&stats).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update account stats: %w", err)
		}
	}

	return nil
}
