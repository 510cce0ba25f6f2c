package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/alichu45/socialbot/internal/models"
	"github.com/alichu45/socialbot/pkg/textutil"
)

const instagramMaxLength = 2200

// InstagramAdapter speaks the Instagram Graph API. Publishing is the usual
// two-step dance: create a media container, then publish it.
type InstagramAdapter struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL string
}

func NewInstagramAdapter(logger *zap.Logger) *InstagramAdapter {
	return &InstagramAdapter{
		client:  newHTTPClient(),
		logger:  logger,
		baseURL: "https://graph.instagram.com/v19.0",
	}
}

func (a *InstagramAdapter) Name() models.Platform {
	return models.PlatformInstagram
}

func (a *InstagramAdapter) Publish(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	caption := textutil.Truncate(req.Content, instagramMaxLength)

	// Step 1: create the media container.
	values := url.Values{}
	values.Set("caption", caption)
	values.Set("access_token", creds.AccessToken)
	if req.MediaURL != "" {
		values.Set("image_url", req.MediaURL)
	}

	var container graphIDResponse
	if err := postForm(ctx, a.client, a.Name(), a.baseURL+"/me/media", values, &container); err != nil {
		return "", err
	}

	// Step 2: publish it.
	publishValues := url.Values{}
	publishValues.Set("creation_id", container.ID)
	publishValues.Set("access_token", creds.AccessToken)

	var published graphIDResponse
	if err := postForm(ctx, a.client, a.Name(), a.baseURL+"/me/media_publish", publishValues, &published); err != nil {
		return "", err
	}

	a.logger.Debug("Instagram media published", zap.String("media_id", published.ID))
	return published.ID, nil
}

type instagramCommentsResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		Timestamp string `json:"timestamp"`
		From      struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Media struct {
			ID string `json:"id"`
		} `json:"media"`
	} `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

func (a *InstagramAdapter) FetchInbox(ctx context.Context, creds Credentials, externalID, cursor string) (*InboxPage, error) {
	q := url.Values{}
	q.Set("fields", "id,text,timestamp,from,media")
	q.Set("access_token", creds.AccessToken)
	q.Set("limit", "50")
	if cursor != "" {
		q.Set("after", cursor)
	}

	endpoint := fmt.Sprintf("%s/%s/comments?%s", a.baseURL, url.PathEscape(externalID), q.Encode())

	var resp instagramCommentsResponse
	if err := doJSON(ctx, a.client, a.Name(), http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		return nil, err
	}

	page := &InboxPage{
		NextCursor: resp.Paging.Cursors.After,
		HasMore:    resp.Paging.Next != "",
	}
	for _, comment := range resp.Data {
		receivedAt, _ := time.Parse(time.RFC3339, comment.Timestamp)
		page.Items = append(page.Items, InboundItem{
			PlatformItemID: comment.ID,
			Kind:           models.InboundKindComment,
			SenderID:       comment.From.ID,
			SenderName:     comment.From.Username,
			Content:        comment.Text,
			ReceivedAt:     receivedAt,
			ParentPostID:   comment.Media.ID,
		})
	}

	return page, nil
}

func (a *InstagramAdapter) Reply(ctx context.Context, creds Credentials, platformItemID, text string) error {
	values := url.Values{}
	values.Set("message", textutil.Truncate(text, instagramMaxLength))
	values.Set("access_token", creds.AccessToken)

	endpoint := fmt.Sprintf("%s/%s/replies", a.baseURL, url.PathEscape(platformItemID))

	var resp graphIDResponse
	return postForm(ctx, a.client, a.Name(), endpoint, values, &resp)
}
