package models

import (
	"time"
)

// InboundItem kinds. Messages arrive in the account's inbox; comments hang
// off one of our published posts.
const (
	InboundKindMessage = "message"
	InboundKindComment = "comment"
)

// InboundItem is a message or comment ingested from a platform. The pair
// (platform, platform_item_id) is globally unique so re-ingestion upserts
// instead of duplicating.
type InboundItem struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	UserID    uint     `gorm:"not null;index:idx_inbound_user_replied" json:"user_id"`
	AccountID uint     `gorm:"not null;index:idx_inbound_account_time" json:"account_id"`
	Platform  Platform `gorm:"size:20;not null;uniqueIndex:idx_inbound_natural_key" json:"platform"`

	// PlatformItemID is the item's native identifier on the platform.
	PlatformItemID string `gorm:"size:100;not null;uniqueIndex:idx_inbound_natural_key" json:"platform_item_id"`

	Kind       string    `gorm:"size:20;not null" json:"kind"`
	SenderID   string    `gorm:"size:100;not null" json:"sender_id"`
	SenderName string    `gorm:"size:100" json:"sender_name"`
	Content    string    `gorm:"type:text" json:"content"`
	ReceivedAt time.Time `gorm:"not null;index:idx_inbound_account_time" json:"received_at"`

	// PostID links a comment back to the local post it was left on.
	// NULL for direct messages and for comments on posts we did not publish.
	PostID *uint `gorm:"index" json:"post_id"`

	Replied   bool       `gorm:"default:false;index:idx_inbound_user_replied" json:"replied"`
	ReplyText string     `gorm:"type:text" json:"reply_text"`
	RepliedAt *time.Time `json:"replied_at"`

	// Reply attempt bookkeeping so a failing reply cannot retry-storm.
	ReplyAttempts int        `gorm:"default:0" json:"reply_attempts"`
	LastReplyTry  *time.Time `json:"last_reply_try"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AutoReply trigger types, evaluated in this priority order.
const (
	TriggerKeyword     = "keyword"
	TriggerMessageType = "message_type"
	TriggerAll         = "all"
)

// AutoReply is a user-defined rule matched against newly ingested items.
// The matcher only ever reads these.
type AutoReply struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	AccountID    uint      `gorm:"not null;index" json:"account_id"`
	TriggerType  string    `gorm:"size:20;not null" json:"trigger_type"`
	TriggerValue string    `gorm:"size:500" json:"trigger_value"`
	ResponseText string    `gorm:"type:text;not null" json:"response_text"`
	IsActive     bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
