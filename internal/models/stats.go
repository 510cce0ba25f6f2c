package models

import (
	"time"
)

// AccountStats is a daily per-account rollup materialized by the stats
// updater so dashboard reads do not scan the posts and inbound tables.
type AccountStats struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Date      time.Time `gorm:"not null;index;uniqueIndex:idx_account_stats_day" json:"date"`
	AccountID uint      `gorm:"not null;index;uniqueIndex:idx_account_stats_day" json:"account_id"`
	Platform  Platform  `gorm:"size:20;not null" json:"platform"`

	ScheduledPosts int `gorm:"default:0" json:"scheduled_posts"`
	PostedPosts    int `gorm:"default:0" json:"posted_posts"`
	FailedPosts    int `gorm:"default:0" json:"failed_posts"`

	TotalLikes    int `gorm:"default:0" json:"total_likes"`
	TotalComments int `gorm:"default:0" json:"total_comments"`
	TotalShares   int `gorm:"default:0" json:"total_shares"`

	InboundItems  int     `gorm:"default:0" json:"inbound_items"`
	RepliedItems  int     `gorm:"default:0" json:"replied_items"`
	ReplyRate     float64 `gorm:"default:0" json:"reply_rate"`

	LastPostAt    *time.Time `json:"last_post_at"`
	LastInboundAt *time.Time `json:"last_inbound_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ErrorLog records per-entity failures (dispatch, ingest, reply) so terminal
// errors stay visible to the layer above without crashing anything here.
type ErrorLog struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Level      string     `gorm:"size:20;not null;index" json:"level"`
	Source     string     `gorm:"size:100;not null;index" json:"source"`
	Platform   Platform   `gorm:"size:20;index" json:"platform"`
	AccountID  *uint      `gorm:"index" json:"account_id"`
	PostID     *uint      `gorm:"index" json:"post_id"`
	ItemID     *uint      `gorm:"index" json:"item_id"`
	Title      string     `gorm:"size:500;not null" json:"title"`
	Message    string     `gorm:"type:text;not null" json:"message"`
	Resolved   bool       `gorm:"default:false;index" json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}
