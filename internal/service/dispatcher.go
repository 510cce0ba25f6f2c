package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alichu45/socialbot/internal/config"
	"github.com/alichu45/socialbot/internal/models"
	"github.com/alichu45/socialbot/internal/platform"
)

// ErrPostNotFound is returned for schedule/reschedule calls against a
// missing post.
var ErrPostNotFound = errors.New("post not found")

// Dispatcher owns the post state machine. It periodically claims due posts
// and publishes them through the platform adapters, retrying transient
// failures within a bounded budget.
type Dispatcher struct {
	config      *config.SchedulerConfig
	db          *gorm.DB
	logger      *zap.Logger
	registry    *platform.Registry
	credentials *CredentialStore
	monitoring  *MonitoringService

	baseDelay time.Duration
	maxDelay  time.Duration
	// claimTTL bounds how long a publishing claim can be honest. A claim
	// older than the full retry budget means the owning process died.
	claimTTL time.Duration

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDispatcher(cfg *config.SchedulerConfig, db *gorm.DB, logger *zap.Logger, registry *platform.Registry, credentials *CredentialStore, monitoring *MonitoringService) *Dispatcher {
	baseDelay, err := time.ParseDuration(cfg.BaseDelay)
	if err != nil {
		baseDelay = 2 * time.Second
	}
	maxDelay, err := time.ParseDuration(cfg.MaxDelay)
	if err != nil {
		maxDelay = 15 * time.Minute
	}

	return &Dispatcher{
		config:      cfg,
		db:          db,
		logger:      logger,
		registry:    registry,
		credentials: credentials,
		monitoring:  monitoring,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		claimTTL:    time.Duration(cfg.MaxAttempts)*maxDelay + time.Minute,
		stopCh:      make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.config.IsEnabled() {
		d.logger.Info("Dispatcher is disabled")
		return nil
	}

	interval, err := time.ParseDuration(d.config.DispatchInterval)
	if err != nil {
		d.logger.Error("Invalid dispatch interval", zap.String("interval", d.config.DispatchInterval), zap.Error(err))
		return err
	}

	d.logger.Info("Starting dispatcher", zap.String("dispatch_interval", d.config.DispatchInterval))

	d.ticker = time.NewTicker(interval)

	// Run first cycle immediately
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.DispatchDue(ctx); err != nil {
			d.logger.Error("Initial dispatch cycle failed", zap.Error(err))
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.ticker.C:
				if err := d.DispatchDue(ctx); err != nil {
					d.logger.Error("Dispatch cycle failed", zap.Error(err))
				}
			case <-d.stopCh:
				d.logger.Info("Dispatcher stopped")
				return
			case <-ctx.Done():
				d.logger.Info("Dispatcher context cancelled")
				return
			}
		}
	}()

	return nil
}

func (d *Dispatcher) Stop() {
	if d.ticker != nil {
		d.ticker.Stop()
	}
	close(d.stopCh)
	// Wait for an in-flight cycle so no claim is abandoned mid-publish.
	d.wg.Wait()
	d.logger.Info("Dispatcher shutdown completed")
}

// SchedulePost creates a new scheduled post. This is the only way a post
// enters the queue.
func (d *Dispatcher) SchedulePost(ctx context.Context, userID, accountID uint, content, mediaURL string, scheduledTime time.Time) (*models.Post, error) {
	if content == "" {
		return nil, errors.New("content must not be empty")
	}

	var account models.SocialAccount
	if err := d.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", accountID, userID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	post := &models.Post{
		UserID:        userID,
		AccountID:     account.ID,
		Content:       content,
		MediaURL:      mediaURL,
		ScheduledTime: &scheduledTime,
		Status:        models.PostStatusScheduled,
	}
	if err := d.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	d.logger.Info("Post scheduled",
		zap.Uint("post_id", post.ID),
		zap.Uint("account_id", account.ID),
		zap.Time("scheduled_time", scheduledTime))

	return post, nil
}

// Reschedule creates a fresh scheduled post from a terminal one. The
// original keeps its posted/failed record as audit trail.
func (d *Dispatcher) Reschedule(ctx context.Context, userID, postID uint, scheduledTime time.Time) (*models.Post, error) {
	var original models.Post
	if err := d.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", postID, userID).
		First(&original).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to load post: %w", err)
	}

	if !original.Terminal() {
		return nil, fmt.Errorf("post %d is %s, only posted or failed posts can be rescheduled", original.ID, original.Status)
	}

	return d.SchedulePost(ctx, userID, original.AccountID, original.Content, original.MediaURL, scheduledTime)
}

// ListDuePosts returns scheduled posts whose time has come, in the stable
// dispatch order: scheduled_time ascending, id as tie-break.
func (d *Dispatcher) ListDuePosts(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	err := d.db.WithContext(ctx).
		Where("status = ? AND scheduled_time <= ?", models.PostStatusScheduled, time.Now()).
		Order("scheduled_time ASC, id ASC").
		Limit(d.config.BatchSize).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due posts: %w", err)
	}
	return posts, nil
}

// DispatchDue runs one dispatch cycle. One post failing never stops the
// cycle; failure isolation is per post.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	start := time.Now()

	d.requeueStaleClaims(ctx)

	posts, err := d.ListDuePosts(ctx)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		return nil
	}

	d.logger.Info("Dispatching due posts", zap.Int("count", len(posts)))

	var published, failed, skipped int
	for i := range posts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch err := d.dispatchPost(ctx, &posts[i]); {
		case err == nil:
			published++
		case errors.Is(err, errClaimLost) || errors.Is(err, errAccountUnavailable):
			skipped++
		default:
			failed++
		}
	}

	d.logger.Info("Dispatch cycle completed",
		zap.Int("published", published),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// requeueStaleClaims returns publishing posts whose claim outlived the
// whole retry budget to the scheduled queue. Such claims belong to a
// process that died between claiming and recording a terminal status.
func (d *Dispatcher) requeueStaleClaims(ctx context.Context) {
	cutoff := time.Now().Add(-d.claimTTL)
	result := d.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("status = ? AND updated_at < ?", models.PostStatusPublishing, cutoff).
		Update("status", models.PostStatusScheduled)
	if result.Error != nil {
		d.logger.Error("Failed to requeue stale claims", zap.Error(result.Error))
		return
	}
	if result.RowsAffected > 0 {
		d.logger.Warn("Requeued stale publishing claims",
			zap.Int64("count", result.RowsAffected),
			zap.Time("cutoff", cutoff))
	}
}

var (
	// errClaimLost means another dispatcher instance claimed the post first.
	errClaimLost = errors.New("post claimed elsewhere")
	// errAccountUnavailable means the account is degraded or its token
	// could not be resolved; the post stays scheduled.
	errAccountUnavailable = errors.New("account unavailable")
)

func (d *Dispatcher) dispatchPost(ctx context.Context, post *models.Post) error {
	var account models.SocialAccount
	if err := d.db.WithContext(ctx).First(&account, post.AccountID).Error; err != nil {
		return fmt.Errorf("failed to load account %d: %w", post.AccountID, err)
	}

	// Degraded accounts wait for re-auth; their posts stay scheduled.
	if account.Degraded() {
		return errAccountUnavailable
	}

	if err := d.claim(ctx, post.ID); err != nil {
		return err
	}

	creds, err := d.credentials.ValidToken(ctx, account.ID)
	if err != nil {
		// Credential trouble is not a post failure. Release the claim and
		// leave the post for a future cycle.
		d.release(ctx, post.ID)
		d.logger.Warn("Token unavailable, post released",
			zap.Uint("post_id", post.ID),
			zap.Uint("account_id", account.ID),
			zap.Error(err))
		return errAccountUnavailable
	}

	adapter, err := d.registry.Get(account.Platform)
	if err != nil {
		d.release(ctx, post.ID)
		return fmt.Errorf("no adapter for platform %s: %w", account.Platform, err)
	}

	platformPostID, attempts, pubErr := d.publishWithRetry(ctx, adapter, creds, post)

	if pubErr != nil {
		// Shutdown is not a publish verdict. Return the claim so the next
		// cycle (or instance) picks the post up again.
		if errors.Is(pubErr, context.Canceled) || errors.Is(pubErr, context.DeadlineExceeded) {
			d.release(ctx, post.ID)
			d.logger.Info("Publish interrupted, post released",
				zap.Uint("post_id", post.ID),
				zap.Error(pubErr))
			return pubErr
		}

		d.fail(ctx, post, attempts, pubErr)
		if platform.IsAuthRejected(pubErr) {
			if derr := d.credentials.MarkDegraded(ctx, account.ID); derr != nil {
				d.logger.Error("Failed to degrade account", zap.Uint("account_id", account.ID), zap.Error(derr))
			}
		}
		d.monitoring.RecordError("ERROR", "dispatcher", "Post publish failed", pubErr.Error(),
			WithPlatform(account.Platform), WithAccount(account.ID), WithPost(post.ID))
		d.logger.Error("Post publish failed",
			zap.Uint("post_id", post.ID),
			zap.String("platform", account.Platform.String()),
			zap.Int("attempts", attempts),
			zap.Error(pubErr))
		return pubErr
	}

	now := time.Now()
	if err := d.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.Post{}).
		Where("id = ? AND status = ?", post.ID, models.PostStatusPublishing).
		Updates(map[string]any{
			"status":           models.PostStatusPosted,
			"platform_post_id": platformPostID,
			"posted_time":      now,
			"attempts":         attempts,
			"last_error":       "",
		}).Error; err != nil {
		return fmt.Errorf("failed to mark post %d posted: %w", post.ID, err)
	}

	d.logger.Info("Post published",
		zap.Uint("post_id", post.ID),
		zap.String("platform", account.Platform.String()),
		zap.String("platform_post_id", platformPostID),
		zap.Int("attempts", attempts))

	return nil
}

// claim atomically moves scheduled -> publishing. Zero rows affected means
// another instance got there first.
func (d *Dispatcher) claim(ctx context.Context, postID uint) error {
	result := d.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ? AND status = ?", postID, models.PostStatusScheduled).
		Update("status", models.PostStatusPublishing)
	if result.Error != nil {
		return fmt.Errorf("failed to claim post %d: %w", postID, result.Error)
	}
	if result.RowsAffected == 0 {
		return errClaimLost
	}
	return nil
}

// release returns a claimed post to the queue without recording a failure.
// The write survives cancellation of the caller's context so a shutdown
// never strands a claim.
func (d *Dispatcher) release(ctx context.Context, postID uint) {
	err := d.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.Post{}).
		Where("id = ? AND status = ?", postID, models.PostStatusPublishing).
		Update("status", models.PostStatusScheduled).Error
	if err != nil {
		d.logger.Error("Failed to release post claim", zap.Uint("post_id", postID), zap.Error(err))
	}
}

func (d *Dispatcher) fail(ctx context.Context, post *models.Post, attempts int, cause error) {
	err := d.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.Post{}).
		Where("id = ? AND status = ?", post.ID, models.PostStatusPublishing).
		Updates(map[string]any{
			"status":     models.PostStatusFailed,
			"attempts":   attempts,
			"last_error": cause.Error(),
		}).Error
	if err != nil {
		d.logger.Error("Failed to mark post failed", zap.Uint("post_id", post.ID), zap.Error(err))
	}
}

// publishWithRetry runs the bounded retry budget: transient and rate-limit
// errors retry with exponential backoff (honoring the platform's
// Retry-After), terminal errors abort immediately.
func (d *Dispatcher) publishWithRetry(ctx context.Context, adapter platform.Adapter, creds platform.Credentials, post *models.Post) (string, int, error) {
	var platformPostID string
	attempts := 0

	err := retry.Do(
		func() error {
			attempts++
			id, err := adapter.Publish(ctx, creds, platform.PublishRequest{
				Content:  post.Content,
				MediaURL: post.MediaURL,
			})
			if err != nil {
				if !platform.IsRetryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			platformPostID = id
			return nil
		},
		retry.Attempts(uint(d.config.MaxAttempts)),
		retry.Delay(d.baseDelay),
		retry.MaxDelay(d.maxDelay),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			if after := platform.RetryAfterOf(err); after > 0 {
				if after > d.maxDelay {
					return d.maxDelay
				}
				return after
			}
			return retry.BackOffDelay(n, err, config)
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, retryErr error) {
			d.logger.Info("Retrying publish",
				zap.Uint("post_id", post.ID),
				zap.Uint("attempt", n+1),
				zap.Error(retryErr))
		}),
	)

	return platformPostID, attempts, err
}
