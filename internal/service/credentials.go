package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/alichu45/socialbot/internal/config"
	"github.com/alichu45/socialbot/internal/models"
	"github.com/alichu45/socialbot/internal/platform"
)

// Credential store errors. ErrTokenExpired covers both an expired token
// with no way to refresh and a failed refresh; either way the account is
// degraded and waits for the re-auth flow upstream.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenRevoked    = errors.New("token revoked by platform")
)

// expirySkew refreshes tokens slightly before their actual expiry so a
// token cannot die mid-call.
const expirySkew = time.Minute

// CredentialStore hands out valid tokens, refreshing them on demand.
// Refreshed tokens are persisted before being returned so concurrent
// callers observe the update.
type CredentialStore struct {
	db        *gorm.DB
	logger    *zap.Logger
	platforms *config.PlatformsConfig
	client    *http.Client
	// group collapses concurrent refreshes for the same account into one
	// upstream call.
	group singleflight.Group
}

func NewCredentialStore(db *gorm.DB, platforms *config.PlatformsConfig, logger *zap.Logger) *CredentialStore {
	return &CredentialStore{
		db:        db,
		logger:    logger,
		platforms: platforms,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ValidToken returns usable credentials for the account, refreshing first
// if the stored token is near expiry.
func (s *CredentialStore) ValidToken(ctx context.Context, accountID uint) (platform.Credentials, error) {
	var account models.SocialAccount
	if err := s.db.WithContext(ctx).First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return platform.Credentials{}, ErrAccountNotFound
		}
		return platform.Credentials{}, fmt.Errorf("failed to load account: %w", err)
	}

	if account.Degraded() {
		return platform.Credentials{}, ErrTokenRevoked
	}

	if account.TokenExpiry == nil || time.Until(*account.TokenExpiry) > expirySkew {
		return credentialsOf(&account), nil
	}

	if account.RefreshToken == "" {
		s.logger.Warn("Token expired with no refresh token, degrading account",
			zap.Uint("account_id", account.ID),
			zap.String("platform", account.Platform.String()))
		if err := s.MarkDegraded(ctx, account.ID); err != nil {
			s.logger.Error("Failed to mark account degraded", zap.Uint("account_id", account.ID), zap.Error(err))
		}
		return platform.Credentials{}, ErrTokenExpired
	}

	return s.refresh(ctx, &account)
}

// refresh performs the token refresh, deduplicated per account.
func (s *CredentialStore) refresh(ctx context.Context, account *models.SocialAccount) (platform.Credentials, error) {
	key := fmt.Sprintf("refresh-%d", account.ID)
	result, err, _ := s.group.Do(key, func() (any, error) {
		// Re-read inside the flight; a concurrent caller may have already
		// persisted a fresh token.
		var current models.SocialAccount
		if err := s.db.WithContext(ctx).First(&current, account.ID).Error; err != nil {
			return nil, fmt.Errorf("failed to reload account: %w", err)
		}
		if current.TokenExpiry == nil || time.Until(*current.TokenExpiry) > expirySkew {
			return credentialsOf(&current), nil
		}

		token, err := s.requestRefresh(ctx, &current)
		if err != nil {
			s.logger.Warn("Token refresh failed, degrading account",
				zap.Uint("account_id", current.ID),
				zap.String("platform", current.Platform.String()),
				zap.Error(err))
			if derr := s.MarkDegraded(ctx, current.ID); derr != nil {
				s.logger.Error("Failed to mark account degraded", zap.Uint("account_id", current.ID), zap.Error(derr))
			}
			return nil, ErrTokenExpired
		}

		expiry := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
		refreshToken := token.RefreshToken
		if refreshToken == "" {
			// Platforms that do not rotate refresh tokens return none.
			refreshToken = current.RefreshToken
		}
		if err := s.StoreToken(ctx, current.ID, token.AccessToken, refreshToken, &expiry); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
		}

		s.logger.Info("Token refreshed",
			zap.Uint("account_id", current.ID),
			zap.String("platform", current.Platform.String()),
			zap.Time("expiry", expiry))

		return platform.Credentials{AccessToken: token.AccessToken, AccessTokenSecret: current.AccessTokenSecret}, nil
	})
	if err != nil {
		return platform.Credentials{}, err
	}
	return result.(platform.Credentials), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// requestRefresh runs the OAuth2 refresh_token grant against the
// platform's token endpoint.
func (s *CredentialStore) requestRefresh(ctx context.Context, account *models.SocialAccount) (*tokenResponse, error) {
	app, endpoint, err := s.appCredentials(account.Platform)
	if err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("grant_type", "refresh_token")
	values.Set("refresh_token", account.RefreshToken)
	values.Set("client_id", app.ClientID)
	values.Set("client_secret", app.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("token endpoint returned no access token")
	}
	return &token, nil
}

// StoreToken persists new tokens for an account and restores it to active.
func (s *CredentialStore) StoreToken(ctx context.Context, accountID uint, accessToken, refreshToken string, expiry *time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.SocialAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"token_expiry":  expiry,
			"status":        models.AccountStatusActive,
		}).Error
}

// MarkDegraded excludes the account from dispatch and ingestion until
// re-authenticated.
func (s *CredentialStore) MarkDegraded(ctx context.Context, accountID uint) error {
	return s.db.WithContext(ctx).
		Model(&models.SocialAccount{}).
		Where("id = ?", accountID).
		Update("status", models.AccountStatusDegraded).Error
}

func (s *CredentialStore) appCredentials(p models.Platform) (*config.AppCredentials, string, error) {
	var app *config.AppCredentials
	var endpoint string

	switch p {
	case models.PlatformTwitter:
		app, endpoint = &s.platforms.Twitter, "https://api.twitter.com/2/oauth2/token"
	case models.PlatformFacebook:
		app, endpoint = &s.platforms.Facebook, "https://graph.facebook.com/v19.0/oauth/access_token"
	case models.PlatformInstagram:
		app, endpoint = &s.platforms.Instagram, "https://api.instagram.com/oauth/access_token"
	case models.PlatformTikTok:
		app, endpoint = &s.platforms.TikTok, "https://open.tiktokapis.com/v2/oauth/token/"
	case models.PlatformThreads:
		app, endpoint = &s.platforms.Threads, "https://graph.threads.net/oauth/access_token"
	default:
		return nil, "", fmt.Errorf("no app credentials for platform %s", p)
	}

	if app.TokenURL != "" {
		endpoint = app.TokenURL
	}
	return app, endpoint, nil
}

func credentialsOf(account *models.SocialAccount) platform.Credentials {
	return platform.Credentials{
		AccessToken:       account.AccessToken,
		AccessTokenSecret: account.AccessTokenSecret,
	}
}
