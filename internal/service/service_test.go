package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/alichu45/socialbot/internal/config"
	"github.com/alichu45/socialbot/internal/models"
	"github.com/alichu45/socialbot/internal/platform"
)

var testDBSeq atomic.Int64

// newTestDB opens an isolated in-memory database with the full schema.
// Shared cache keeps the database alive across pooled connections.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func newTestAccount(t *testing.T, db *gorm.DB, p models.Platform) *models.SocialAccount {
	t.Helper()

	account := &models.SocialAccount{
		UserID:      1,
		Platform:    p,
		ExternalID:  "ext-100",
		Username:    "tester",
		AccessToken: "token-abc",
		Status:      models.AccountStatusActive,
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func testSchedulerConfig() *config.SchedulerConfig {
	return &config.SchedulerConfig{
		DispatchInterval: "30s",
		MaxAttempts:      3,
		BaseDelay:        "1ms",
		MaxDelay:         "5ms",
		BatchSize:        50,
	}
}

func testIngestConfig() *config.IngestConfig {
	return &config.IngestConfig{
		Interval: "2m",
		MaxPages: 10,
	}
}

func testMatcherConfig() *config.MatcherConfig {
	return &config.MatcherConfig{
		Interval:         "30s",
		MaxReplyAttempts: 3,
		RetryWindow:      "10m",
		BatchSize:        100,
	}
}

// fakeAdapter scripts adapter behavior per test and records the calls the
// services make against it.
type fakeAdapter struct {
	platform models.Platform

	publishFn func(req platform.PublishRequest) (string, error)
	inboxFn   func(externalID, cursor string) (*platform.InboxPage, error)
	replyFn   func(platformItemID, text string) error

	publishCalls int
	inboxCursors []string
	replies      []fakeReply
}

type fakeReply struct {
	itemID string
	text   string
}

func (f *fakeAdapter) Name() models.Platform { return f.platform }

func (f *fakeAdapter) Publish(_ context.Context, _ platform.Credentials, req platform.PublishRequest) (string, error) {
	f.publishCalls++
	if f.publishFn == nil {
		return "fake-post-1", nil
	}
	return f.publishFn(req)
}

func (f *fakeAdapter) FetchInbox(_ context.Context, _ platform.Credentials, externalID, cursor string) (*platform.InboxPage, error) {
	f.inboxCursors = append(f.inboxCursors, cursor)
	if f.inboxFn == nil {
		return &platform.InboxPage{}, nil
	}
	return f.inboxFn(externalID, cursor)
}

func (f *fakeAdapter) Reply(_ context.Context, _ platform.Credentials, platformItemID, text string) error {
	f.replies = append(f.replies, fakeReply{itemID: platformItemID, text: text})
	if f.replyFn == nil {
		return nil
	}
	return f.replyFn(platformItemID, text)
}

// newTestRegistry registers one fake adapter for the platform.
func newTestRegistry(t *testing.T, fake *fakeAdapter) *platform.Registry {
	t.Helper()

	registry := platform.NewRegistry(zap.NewNop())
	require.NoError(t, registry.Register(fake))
	return registry
}

func newTestCredentials(db *gorm.DB) *CredentialStore {
	return NewCredentialStore(db, &config.PlatformsConfig{}, zap.NewNop())
}

func timePtr(t time.Time) *time.Time { return &t }
