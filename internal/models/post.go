package models

import (
	"time"

	"gorm.io/gorm"
)

// Post status values. A post only ever moves forward:
// draft -> scheduled -> publishing -> posted | failed.
// Publishing is the transient claimed state held by exactly one dispatch
// attempt; a claim that cannot proceed is released back to scheduled.
const (
	PostStatusDraft      = "draft"
	PostStatusScheduled  = "scheduled"
	PostStatusPublishing = "publishing"
	PostStatusPosted     = "posted"
	PostStatusFailed     = "failed"
)

type Post struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	UserID    uint `gorm:"not null;index:idx_posts_user_status" json:"user_id"`
	AccountID uint `gorm:"not null;index" json:"account_id"`

	Content  string `gorm:"type:text;not null" json:"content"`
	MediaURL string `gorm:"size:500" json:"media_url"`

	ScheduledTime *time.Time `gorm:"index" json:"scheduled_time"`
	PostedTime    *time.Time `gorm:"index" json:"posted_time"`
	Status        string     `gorm:"size:20;default:'draft';index:idx_posts_user_status" json:"status"`

	// PlatformPostID is set once the platform accepts the post.
	PlatformPostID string `gorm:"size:100;index" json:"platform_post_id"`

	// Engagement counters, refreshed by the stats updater. The only fields
	// that may change after a post reaches the posted state.
	Likes    int `gorm:"default:0" json:"likes"`
	Comments int `gorm:"default:0" json:"comments"`
	Shares   int `gorm:"default:0" json:"shares"`

	Attempts  int    `gorm:"default:0" json:"attempts"`
	LastError string `gorm:"type:text" json:"last_error"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at"`

	Account SocialAccount `gorm:"foreignKey:AccountID" json:"-"`
}

// Terminal reports whether the post has reached a final state.
func (p *Post) Terminal() bool {
	return p.Status == PostStatusPosted || p.Status == PostStatusFailed
}

type Campaign struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	StartDate   time.Time `gorm:"not null" json:"start_date"`
	EndDate     time.Time `gorm:"not null" json:"end_date"`
	Status      string    `gorm:"size:20;default:'active'" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CampaignPost tags a post as belonging to a campaign. Pure association,
// used by the analytics rollups for grouping.
type CampaignPost struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	CampaignID uint `gorm:"not null;index;uniqueIndex:idx_campaign_post" json:"campaign_id"`
	PostID     uint `gorm:"not null;index;uniqueIndex:idx_campaign_post" json:"post_id"`
}
