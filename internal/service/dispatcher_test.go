package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alichu45/socialbot/internal/models"
	"github.com/alichu45/socialbot/internal/platform"
)

func newTestDispatcher(t *testing.T, db *gorm.DB, fake *fakeAdapter) *Dispatcher {
	t.Helper()

	logger := zap.NewNop()
	return NewDispatcher(
		testSchedulerConfig(),
		db,
		logger,
		newTestRegistry(t, fake),
		newTestCredentials(db),
		NewMonitoringService(db, logger),
	)
}

func scheduledPost(t *testing.T, db *gorm.DB, accountID uint, at time.Time) *models.Post {
	t.Helper()

	post := &models.Post{
		UserID:        1,
		AccountID:     accountID,
		Content:       "hello world",
		ScheduledTime: &at,
		Status:        models.PostStatusScheduled,
	}
	require.NoError(t, db.Create(post).Error)
	return post
}

func TestSchedulePost(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	d := newTestDispatcher(t, db, &fakeAdapter{platform: models.PlatformTwitter})

	at := time.Now().Add(time.Hour)
	post, err := d.SchedulePost(context.Background(), account.UserID, account.ID, "launch day!", "", at)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.WithinDuration(t, at, *post.ScheduledTime, time.Second)

	_, err = d.SchedulePost(context.Background(), account.UserID, account.ID, "", "", at)
	assert.Error(t, err)

	_, err = d.SchedulePost(context.Background(), account.UserID, account.ID+999, "orphan", "", at)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	// Account ownership is enforced, not just existence.
	_, err = d.SchedulePost(context.Background(), account.UserID+1, account.ID, "not mine", "", at)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestListDuePostsOrder(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	d := newTestDispatcher(t, db, &fakeAdapter{platform: models.PlatformTwitter})

	now := time.Now()
	later := scheduledPost(t, db, account.ID, now.Add(-time.Minute))
	tieA := scheduledPost(t, db, account.ID, now.Add(-time.Hour))
	tieB := scheduledPost(t, db, account.ID, now.Add(-time.Hour))
	scheduledPost(t, db, account.ID, now.Add(time.Hour)) // not due

	due, err := d.ListDuePosts(context.Background())
	require.NoError(t, err)
	require.Len(t, due, 3)

	// Oldest scheduled time first, id breaks the tie.
	assert.Equal(t, tieA.ID, due[0].ID)
	assert.Equal(t, tieB.ID, due[1].ID)
	assert.Equal(t, later.ID, due[2].ID)
}

func TestListDuePostsBatchLimit(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	d := newTestDispatcher(t, db, &fakeAdapter{platform: models.PlatformTwitter})
	d.config.BatchSize = 2

	for i := 0; i < 5; i++ {
		scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))
	}

	due, err := d.ListDuePosts(context.Background())
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestDispatchDuePublishes(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	fake := &fakeAdapter{
		platform: models.PlatformTwitter,
		publishFn: func(req platform.PublishRequest) (string, error) {
			return "tw-789", nil
		},
	}
	d := newTestDispatcher(t, db, fake)

	post := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))
	require.NoError(t, d.DispatchDue(context.Background()))

	var got models.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	assert.Equal(t, models.PostStatusPosted, got.Status)
	assert.Equal(t, "tw-789", got.PlatformPostID)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.PostedTime)
	assert.Empty(t, got.LastError)
	assert.Equal(t, 1, fake.publishCalls)
}

func TestDispatchContentRejectedFailsWithoutRetry(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	fake := &fakeAdapter{
		platform: models.PlatformTwitter,
		publishFn: func(platform.PublishRequest) (string, error) {
			return "", &platform.Error{
				Platform:   models.PlatformTwitter,
				Kind:       platform.KindContentRejected,
				StatusCode: 400,
				Message:    "duplicate content",
			}
		},
	}
	d := newTestDispatcher(t, db, fake)

	post := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))
	require.NoError(t, d.DispatchDue(context.Background()))

	var got models.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	assert.Equal(t, models.PostStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "duplicate content")
	// Terminal rejection burns no retry budget.
	assert.Equal(t, 1, fake.publishCalls)

	var errLogs []models.ErrorLog
	require.NoError(t, db.Find(&errLogs).Error)
	require.Len(t, errLogs, 1)
	assert.Equal(t, "dispatcher", errLogs[0].Source)
	require.NotNil(t, errLogs[0].PostID)
	assert.Equal(t, post.ID, *errLogs[0].PostID)
}

func TestDispatchRetriesRateLimitedThenSucceeds(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)

	calls := 0
	fake := &fakeAdapter{platform: models.PlatformTwitter}
	fake.publishFn = func(platform.PublishRequest) (string, error) {
		calls++
		if calls < 3 {
			return "", &platform.Error{
				Platform:   models.PlatformTwitter,
				Kind:       platform.KindRateLimited,
				StatusCode: 429,
				Message:    "slow down",
				RetryAfter: time.Millisecond,
			}
		}
		return "tw-eventually", nil
	}
	d := newTestDispatcher(t, db, fake)

	post := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))
	require.NoError(t, d.DispatchDue(context.Background()))

	var got models.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	assert.Equal(t, models.PostStatusPosted, got.Status)
	assert.Equal(t, "tw-eventually", got.PlatformPostID)
	assert.Equal(t, 3, got.Attempts)
}

func TestDispatchExhaustedRetriesFailsPost(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	fake := &fakeAdapter{
		platform: models.PlatformTwitter,
		publishFn: func(platform.PublishRequest) (string, error) {
			return "", &platform.Error{
				Platform:   models.PlatformTwitter,
				Kind:       platform.KindTransientNetwork,
				StatusCode: 503,
				Message:    "upstream flapping",
			}
		},
	}
	d := newTestDispatcher(t, db, fake)

	post := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))
	require.NoError(t, d.DispatchDue(context.Background()))

	var got models.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	assert.Equal(t, models.PostStatusFailed, got.Status)
	assert.Equal(t, d.config.MaxAttempts, got.Attempts)
	assert.Equal(t, d.config.MaxAttempts, fake.publishCalls)

	// Transient failure never degrades the account.
	var gotAccount models.SocialAccount
	require.NoError(t, db.First(&gotAccount, account.ID).Error)
	assert.Equal(t, models.AccountStatusActive, gotAccount.Status)
}

func TestDispatchAuthRejectedDegradesAccount(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	fake := &fakeAdapter{
		platform: models.PlatformTwitter,
		publishFn: func(platform.PublishRequest) (string, error) {
			return "", &platform.Error{
				Platform:   models.PlatformTwitter,
				Kind:       platform.KindAuthRejected,
				StatusCode: 401,
				Message:    "token revoked",
			}
		},
	}
	d := newTestDispatcher(t, db, fake)

	post := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))
	require.NoError(t, d.DispatchDue(context.Background()))

	var got models.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	assert.Equal(t, models.PostStatusFailed, got.Status)

	var gotAccount models.SocialAccount
	require.NoError(t, db.First(&gotAccount, account.ID).Error)
	assert.Equal(t, models.AccountStatusDegraded, gotAccount.Status)
}

func TestDispatchSkipsDegradedAccount(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	require.NoError(t, db.Model(account).Update("status", models.AccountStatusDegraded).Error)

	fake := &fakeAdapter{platform: models.PlatformTwitter}
	d := newTestDispatcher(t, db, fake)

	post := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))
	require.NoError(t, d.DispatchDue(context.Background()))

	var got models.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	assert.Equal(t, models.PostStatusScheduled, got.Status)
	assert.Equal(t, 0, fake.publishCalls)
}

func TestDispatchClaimLost(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	fake := &fakeAdapter{platform: models.PlatformTwitter}
	d := newTestDispatcher(t, db, fake)

	post := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))

	// Another instance got the claim after this one listed the post.
	require.NoError(t, db.Model(&models.Post{}).
		Where("id = ?", post.ID).
		Update("status", models.PostStatusPublishing).Error)

	err := d.dispatchPost(context.Background(), post)
	assert.ErrorIs(t, err, errClaimLost)
	assert.Equal(t, 0, fake.publishCalls)
}

func TestDispatchRequeuesStaleClaims(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	fake := &fakeAdapter{
		platform: models.PlatformTwitter,
		publishFn: func(platform.PublishRequest) (string, error) {
			return "tw-revived", nil
		},
	}
	d := newTestDispatcher(t, db, fake)

	// A claim from a process that died between claiming and finishing.
	stale := scheduledPost(t, db, account.ID, time.Now().Add(-time.Hour))
	require.NoError(t, db.Model(stale).Update("status", models.PostStatusPublishing).Error)
	require.NoError(t, db.Model(stale).
		UpdateColumn("updated_at", time.Now().Add(-2*time.Hour)).Error)

	// A live claim held by another instance right now.
	fresh := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))
	require.NoError(t, db.Model(fresh).Update("status", models.PostStatusPublishing).Error)

	require.NoError(t, d.DispatchDue(context.Background()))

	var gotStale models.Post
	require.NoError(t, db.First(&gotStale, stale.ID).Error)
	assert.Equal(t, models.PostStatusPosted, gotStale.Status)
	assert.Equal(t, "tw-revived", gotStale.PlatformPostID)

	var gotFresh models.Post
	require.NoError(t, db.First(&gotFresh, fresh.ID).Error)
	assert.Equal(t, models.PostStatusPublishing, gotFresh.Status)
}

func TestDispatchCancelledMidRetryReleasesClaim(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeAdapter{platform: models.PlatformTwitter}
	fake.publishFn = func(platform.PublishRequest) (string, error) {
		// Shutdown lands while the publish is being retried.
		cancel()
		return "", &platform.Error{
			Platform:   models.PlatformTwitter,
			Kind:       platform.KindTransientNetwork,
			StatusCode: 503,
			Message:    "upstream flapping",
		}
	}
	d := newTestDispatcher(t, db, fake)

	post := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))

	err := d.dispatchPost(ctx, post)
	assert.ErrorIs(t, err, context.Canceled)

	// The claim went back to the queue, not to failed.
	var got models.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	assert.Equal(t, models.PostStatusScheduled, got.Status)
	assert.Empty(t, got.LastError)

	var gotAccount models.SocialAccount
	require.NoError(t, db.First(&gotAccount, account.ID).Error)
	assert.Equal(t, models.AccountStatusActive, gotAccount.Status)

	var errLogs []models.ErrorLog
	require.NoError(t, db.Find(&errLogs).Error)
	assert.Empty(t, errLogs)
}

func TestDispatchMixedRetryBackoff(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)

	calls := 0
	fake := &fakeAdapter{platform: models.PlatformTwitter}
	fake.publishFn = func(platform.PublishRequest) (string, error) {
		calls++
		switch {
		case calls <= 3:
			return "", &platform.Error{
				Platform:   models.PlatformTwitter,
				Kind:       platform.KindRateLimited,
				StatusCode: 429,
				Message:    "slow down",
				RetryAfter: 20 * time.Millisecond,
			}
		case calls == 4:
			return "", &platform.Error{
				Platform:   models.PlatformTwitter,
				Kind:       platform.KindTransientNetwork,
				StatusCode: 503,
				Message:    "upstream flapping",
			}
		default:
			return "tw-mixed", nil
		}
	}
	d := newTestDispatcher(t, db, fake)
	d.config.MaxAttempts = 5
	d.maxDelay = 50 * time.Millisecond

	post := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))

	begin := time.Now()
	require.NoError(t, d.DispatchDue(context.Background()))
	elapsed := time.Since(begin)

	var got models.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	assert.Equal(t, models.PostStatusPosted, got.Status)
	assert.Equal(t, "tw-mixed", got.PlatformPostID)
	assert.Equal(t, 5, got.Attempts)
	assert.Equal(t, 5, fake.publishCalls)

	// Three rate-limit waits honor the platform's Retry-After.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestDispatchReleasesClaimOnCredentialFailure(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	// Expired token, no refresh token: credentials cannot be resolved.
	require.NoError(t, db.Model(account).
		Update("token_expiry", time.Now().Add(-time.Hour)).Error)

	fake := &fakeAdapter{platform: models.PlatformTwitter}
	d := newTestDispatcher(t, db, fake)

	post := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))
	require.NoError(t, d.DispatchDue(context.Background()))

	var got models.Post
	require.NoError(t, db.First(&got, post.ID).Error)
	// The post came back to the queue without a recorded failure.
	assert.Equal(t, models.PostStatusScheduled, got.Status)
	assert.Empty(t, got.LastError)
	assert.Equal(t, 0, fake.publishCalls)

	var gotAccount models.SocialAccount
	require.NoError(t, db.First(&gotAccount, account.ID).Error)
	assert.Equal(t, models.AccountStatusDegraded, gotAccount.Status)
}

func TestDispatchIsolatesFailures(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)

	fake := &fakeAdapter{platform: models.PlatformTwitter}
	fake.publishFn = func(req platform.PublishRequest) (string, error) {
		if req.Content == "bad" {
			return "", &platform.Error{
				Platform: models.PlatformTwitter,
				Kind:     platform.KindContentRejected,
				Message:  "nope",
			}
		}
		return "ok-1", nil
	}
	d := newTestDispatcher(t, db, fake)

	bad := scheduledPost(t, db, account.ID, time.Now().Add(-2*time.Minute))
	require.NoError(t, db.Model(bad).Update("content", "bad").Error)
	good := scheduledPost(t, db, account.ID, time.Now().Add(-time.Minute))

	require.NoError(t, d.DispatchDue(context.Background()))

	var gotBad, gotGood models.Post
	require.NoError(t, db.First(&gotBad, bad.ID).Error)
	require.NoError(t, db.First(&gotGood, good.ID).Error)
	assert.Equal(t, models.PostStatusFailed, gotBad.Status)
	assert.Equal(t, models.PostStatusPosted, gotGood.Status)
}

func TestReschedule(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	d := newTestDispatcher(t, db, &fakeAdapter{platform: models.PlatformTwitter})

	failed := &models.Post{
		UserID:    1,
		AccountID: account.ID,
		Content:   "second try",
		Status:    models.PostStatusFailed,
		Attempts:  3,
		LastError: "upstream flapping",
	}
	require.NoError(t, db.Create(failed).Error)

	at := time.Now().Add(time.Hour)
	fresh, err := d.Reschedule(context.Background(), 1, failed.ID, at)
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, fresh.ID)
	assert.Equal(t, models.PostStatusScheduled, fresh.Status)
	assert.Equal(t, "second try", fresh.Content)
	assert.Equal(t, 0, fresh.Attempts)

	// The original keeps its failure record.
	var got models.Post
	require.NoError(t, db.First(&got, failed.ID).Error)
	assert.Equal(t, models.PostStatusFailed, got.Status)
	assert.Equal(t, "upstream flapping", got.LastError)
}

func TestRescheduleRejectsNonTerminal(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, models.PlatformTwitter)
	d := newTestDispatcher(t, db, &fakeAdapter{platform: models.PlatformTwitter})

	pending := scheduledPost(t, db, account.ID, time.Now().Add(time.Hour))

	_, err := d.Reschedule(context.Background(), 1, pending.ID, time.Now().Add(2*time.Hour))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPostNotFound))

	_, err = d.Reschedule(context.Background(), 1, pending.ID+999, time.Now().Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrPostNotFound)
}
