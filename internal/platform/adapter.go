package platform

import (
	"context"
	"time"

	"github.com/alichu45/socialbot/internal/models"
)

// Credentials carries a validated token into an adapter call. Adapters never
// refresh tokens themselves; the credential store does that before the call.
type Credentials struct {
	AccessToken string
	// AccessTokenSecret is only set for Twitter's signed requests.
	AccessTokenSecret string
}

// PublishRequest is the platform-independent shape of an outgoing post.
type PublishRequest struct {
	Content  string
	MediaURL string
}

// InboundItem is one message or comment as reported by a platform, before
// it is persisted.
type InboundItem struct {
	PlatformItemID string
	Kind           string // models.InboundKindMessage or models.InboundKindComment
	SenderID       string
	SenderName     string
	Content        string
	ReceivedAt     time.Time
	// ParentPostID is the platform-native ID of the post a comment was left
	// on, empty for messages.
	ParentPostID string
}

// InboxPage is one finite page of inbound items. A non-empty NextCursor
// with HasMore set means the caller should fetch again from there.
type InboxPage struct {
	Items      []InboundItem
	NextCursor string
	HasMore    bool
}

// Adapter is the uniform capability set every platform implements.
// Expected platform failures come back as *Error; adapters do not retry,
// that policy belongs to the caller.
type Adapter interface {
	Name() models.Platform

	// Publish posts content and returns the platform-native post ID.
	Publish(ctx context.Context, creds Credentials, req PublishRequest) (string, error)

	// FetchInbox returns one page of messages/comments for the account,
	// restartable via the returned cursor.
	FetchInbox(ctx context.Context, creds Credentials, externalID, cursor string) (*InboxPage, error)

	// Reply answers a previously ingested item.
	Reply(ctx context.Context, creds Credentials, platformItemID, text string) error
}
