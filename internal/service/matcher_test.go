package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alichu45/socialbot/internal/models"
	"github.com/alichu45/socialbot/internal/platform"
)

func newTestMatcher(t *testing.T, db *gorm.DB, fake *fakeAdapter) *Matcher {
	t.Helper()

	logger := zap.NewNop()
	return NewMatcher(
		testMatcherConfig(),
		db,
		logger,
		newTestRegistry(t, fake),
		newTestCredentials(db),
		NewMonitoringService(db, logger),
	)
}

func inboundItem(t *testing.T, db *gorm.DB, accountID uint, platformItemID, kind, content string) *models.InboundItem {
	t.Helper()

	item := &models.InboundItem{
		UserID:         1,
		AccountID:      accountID,
		Platform:       models.PlatformTwitter,
		PlatformItemID: platformItemID,
		Kind:           kind,
		SenderID:       "u-1",
		Content:        content,
		ReceivedAt:     time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.Create(item).Error)
	return item
}

func TestEvaluateRules(t *testing.T) {
	keywordRule := models.AutoReply{
		ID: 3, TriggerType: models.TriggerKeyword, TriggerValue: "help",
		ResponseText: "We're on it!", IsActive: true,
	}
	typeRule := models.AutoReply{
		ID: 2, TriggerType: models.TriggerMessageType, TriggerValue: models.InboundKindComment,
		ResponseText: "Thanks for commenting", IsActive: true,
	}
	catchAll := models.AutoReply{
		ID: 1, TriggerType: models.TriggerAll,
		ResponseText: "Thanks!", IsActive: true,
	}

	tests := []struct {
		name  string
		rules []models.AutoReply
		item  models.InboundItem
		want  string // response text, "" for no match
	}{
		{
			name:  "keyword beats catch-all despite higher id",
			rules: []models.AutoReply{catchAll, keywordRule},
			item:  models.InboundItem{Kind: models.InboundKindMessage, Content: "please HELP now"},
			want:  "We're on it!",
		},
		{
			name:  "keyword beats message type",
			rules: []models.AutoReply{typeRule, keywordRule},
			item:  models.InboundItem{Kind: models.InboundKindComment, Content: "help me"},
			want:  "We're on it!",
		},
		{
			name:  "message type matches comment",
			rules: []models.AutoReply{typeRule, catchAll},
			item:  models.InboundItem{Kind: models.InboundKindComment, Content: "whatever"},
			want:  "Thanks for commenting",
		},
		{
			name:  "falls through to catch-all when keyword misses",
			rules: []models.AutoReply{keywordRule, catchAll},
			item:  models.InboundItem{Kind: models.InboundKindMessage, Content: "good morning"},
			want:  "Thanks!",
		},
		{
			name: "id ascending breaks priority ties",
			rules: []models.AutoReply{
				{ID: 9, TriggerType: models.TriggerKeyword, TriggerValue: "hi", ResponseText: "late", IsActive: true},
				{ID: 4, TriggerType: models.TriggerKeyword, TriggerValue: "hi", ResponseText: "early", IsActive: true},
			},
			item: models.InboundItem{Kind: models.InboundKindMessage, Content: "hi there"},
			want: "early",
		},
		{
			name: "inactive rules never win",
			rules: []models.AutoReply{
				{ID: 1, TriggerType: models.TriggerKeyword, TriggerValue: "help", ResponseText: "off", IsActive: false},
				catchAll,
			},
			item: models.InboundItem{Kind: models.InboundKindMessage, Content: "help"},
			want: "Thanks!",
		},
		{
			name:  "no rules no match",
			rules: nil,
			item:  models.InboundItem{Kind: models.InboundKindMessage, Content: "anything"},
			want:  "",
		},
		{
			name: "empty keyword never matches",
			rules: []models.AutoReply{
				{ID: 1, TriggerType: models.TriggerKeyword, TriggerValue: "  ", ResponseText: "bad", IsActive: true},
			},
			item: models.InboundItem{Kind: models.InboundKindMessage, Content: "anything"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateRules(tt.rules, &tt.item)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ResponseText)
		})
	}
}

func TestMatchAllSendsKeywordReply(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)

	require.NoError(t, db.Create(&models.AutoReply{
		UserID: 1, AccountID: account.ID,
		TriggerType: models.TriggerKeyword, TriggerValue: "help",
		ResponseText: "We're on it!", IsActive: true,
	}).Error)
	require.NoError(t, db.Create(&models.AutoReply{
		UserID: 1, AccountID: account.ID,
		TriggerType:  models.TriggerAll,
		ResponseText: "Thanks!", IsActive: true,
	}).Error)

	urgent := inboundItem(t, db, account.ID, "msg-1", models.InboundKindMessage, "please help now")
	casual := inboundItem(t, db, account.ID, "msg-2", models.InboundKindMessage, "great stuff")

	fake := &fakeAdapter{platform: models.PlatformTwitter}
	m := newTestMatcher(t, db, fake)

	require.NoError(t, m.MatchAll(context.Background()))

	require.Len(t, fake.replies, 2)
	assert.Equal(t, "msg-1", fake.replies[0].itemID)
	assert.Equal(t, "We're on it!", fake.replies[0].text)
	assert.Equal(t, "msg-2", fake.replies[1].itemID)
	assert.Equal(t, "Thanks!", fake.replies[1].text)

	var got models.InboundItem
	require.NoError(t, db.First(&got, urgent.ID).Error)
	assert.True(t, got.Replied)
	assert.Equal(t, "We're on it!", got.ReplyText)
	assert.NotNil(t, got.RepliedAt)

	got = models.InboundItem{}
	require.NoError(t, db.First(&got, casual.ID).Error)
	assert.True(t, got.Replied)
	assert.Equal(t, "Thanks!", got.ReplyText)
}

func TestMatchLeavesUnmatchedItemsAlone(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)

	require.NoError(t, db.Create(&models.AutoReply{
		UserID: 1, AccountID: account.ID,
		TriggerType: models.TriggerKeyword, TriggerValue: "refund",
		ResponseText: "Refunds take 3 days", IsActive: true,
	}).Error)

	item := inboundItem(t, db, account.ID, "msg-1", models.InboundKindMessage, "just saying hi")

	fake := &fakeAdapter{platform: models.PlatformTwitter}
	m := newTestMatcher(t, db, fake)

	require.NoError(t, m.MatchAll(context.Background()))

	assert.Empty(t, fake.replies)
	var got models.InboundItem
	require.NoError(t, db.First(&got, item.ID).Error)
	assert.False(t, got.Replied)
	assert.Equal(t, 0, got.ReplyAttempts)
}

func TestMatchReplyFailureThrottles(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)

	require.NoError(t, db.Create(&models.AutoReply{
		UserID: 1, AccountID: account.ID,
		TriggerType:  models.TriggerAll,
		ResponseText: "Thanks!", IsActive: true,
	}).Error)

	item := inboundItem(t, db, account.ID, "msg-1", models.InboundKindMessage, "hello")

	fake := &fakeAdapter{
		platform: models.PlatformTwitter,
		replyFn: func(platformItemID, text string) error {
			return &platform.Error{
				Platform: models.PlatformTwitter,
				Kind:     platform.KindTransientNetwork,
				Message:  "flaky",
			}
		},
	}
	m := newTestMatcher(t, db, fake)

	require.NoError(t, m.MatchAll(context.Background()))

	var got models.InboundItem
	require.NoError(t, db.First(&got, item.ID).Error)
	assert.False(t, got.Replied)
	assert.Equal(t, 1, got.ReplyAttempts)
	assert.NotNil(t, got.LastReplyTry)

	// Burn the rest of the attempt budget.
	require.NoError(t, m.MatchAll(context.Background()))
	require.NoError(t, m.MatchAll(context.Background()))
	require.NoError(t, db.First(&got, item.ID).Error)
	assert.Equal(t, 3, got.ReplyAttempts)

	// Budget exhausted and the last try is recent: the item waits out the
	// retry window instead of hitting the platform again.
	calls := len(fake.replies)
	require.NoError(t, m.MatchAll(context.Background()))
	assert.Len(t, fake.replies, calls)

	// Once the window has passed it becomes eligible again.
	require.NoError(t, db.Model(&models.InboundItem{}).
		Where("id = ?", item.ID).
		Update("last_reply_try", time.Now().Add(-time.Hour)).Error)
	require.NoError(t, m.MatchAll(context.Background()))
	assert.Len(t, fake.replies, calls+1)
}

func TestMatchAuthRejectedDegradesAccount(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)

	require.NoError(t, db.Create(&models.AutoReply{
		UserID: 1, AccountID: account.ID,
		TriggerType:  models.TriggerAll,
		ResponseText: "Thanks!", IsActive: true,
	}).Error)
	inboundItem(t, db, account.ID, "msg-1", models.InboundKindMessage, "hello")

	fake := &fakeAdapter{
		platform: models.PlatformTwitter,
		replyFn: func(platformItemID, text string) error {
			return &platform.Error{
				Platform:   models.PlatformTwitter,
				Kind:       platform.KindAuthRejected,
				StatusCode: 401,
				Message:    "token revoked",
			}
		},
	}
	m := newTestMatcher(t, db, fake)

	require.NoError(t, m.MatchAll(context.Background()))

	var gotAccount models.SocialAccount
	require.NoError(t, db.First(&gotAccount, account.ID).Error)
	assert.Equal(t, models.AccountStatusDegraded, gotAccount.Status)

	// Degraded account is skipped on the next pass.
	calls := len(fake.replies)
	require.NoError(t, m.MatchAll(context.Background()))
	assert.Len(t, fake.replies, calls)
}

func TestMatchRepliesOldestFirst(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)

	require.NoError(t, db.Create(&models.AutoReply{
		UserID: 1, AccountID: account.ID,
		TriggerType:  models.TriggerAll,
		ResponseText: "Thanks!", IsActive: true,
	}).Error)

	newer := inboundItem(t, db, account.ID, "msg-new", models.InboundKindMessage, "second")
	require.NoError(t, db.Model(newer).Update("received_at", time.Now().Add(-time.Minute)).Error)
	older := inboundItem(t, db, account.ID, "msg-old", models.InboundKindMessage, "first")
	require.NoError(t, db.Model(older).Update("received_at", time.Now().Add(-time.Hour)).Error)

	fake := &fakeAdapter{platform: models.PlatformTwitter}
	m := newTestMatcher(t, db, fake)

	require.NoError(t, m.MatchAll(context.Background()))

	require.Len(t, fake.replies, 2)
	assert.Equal(t, "msg-old", fake.replies[0].itemID)
	assert.Equal(t, "msg-new", fake.replies[1].itemID)
}
