package models

import (
	"time"

	"gorm.io/gorm"
)

// Account status values. A degraded account is excluded from dispatch and
// ingestion until its credentials are re-established.
const (
	AccountStatusActive   = "active"
	AccountStatusDegraded = "degraded"
)

type SocialAccount struct {
	ID       uint     `gorm:"primaryKey" json:"id"`
	UserID   uint     `gorm:"not null;index" json:"user_id"`
	Platform Platform `gorm:"size:20;not null;index" json:"platform"`
	// ExternalID is the account's identifier on the platform itself.
	ExternalID string `gorm:"size:100;not null" json:"external_id"`
	Username   string `gorm:"size:100;not null" json:"username"`

	AccessToken string `gorm:"size:500" json:"-"`
	// AccessTokenSecret is only populated for Twitter's OAuth1-style tokens.
	AccessTokenSecret string     `gorm:"size:500" json:"-"`
	RefreshToken      string     `gorm:"size:500" json:"-"`
	TokenExpiry       *time.Time `json:"token_expiry"`

	Status string `gorm:"size:20;default:'active';index" json:"status"`

	// LastInboxCursor is the restart point for the next FetchInbox call.
	// It is only advanced after a batch has been persisted.
	LastInboxCursor string     `gorm:"size:500" json:"last_inbox_cursor"`
	LastFetchedAt   *time.Time `json:"last_fetched_at"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

func (a *SocialAccount) Degraded() bool {
	return a.Status == AccountStatusDegraded
}
