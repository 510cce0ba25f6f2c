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

const facebookMaxLength = 63206

// FacebookAdapter speaks the Facebook Graph API for pages.
type FacebookAdapter struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL string
}

func NewFacebookAdapter(logger *zap.Logger) *FacebookAdapter {
	return &FacebookAdapter{
		client:  newHTTPClient(),
		logger:  logger,
		baseURL: "https://graph.facebook.com/v19.0",
	}
}

func (a *FacebookAdapter) Name() models.Platform {
	return models.PlatformFacebook
}

type graphIDResponse struct {
	ID string `json:"id"`
}

func (a *FacebookAdapter) Publish(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	values := url.Values{}
	values.Set("message", textutil.Truncate(req.Content, facebookMaxLength))
	values.Set("access_token", creds.AccessToken)
	if req.MediaURL != "" {
		values.Set("link", req.MediaURL)
	}

	endpoint := fmt.Sprintf("%s/me/feed", a.baseURL)

	var resp graphIDResponse
	if err := postForm(ctx, a.client, a.Name(), endpoint, values, &resp); err != nil {
		return "", err
	}

	a.logger.Debug("Facebook post published", zap.String("post_id", resp.ID))
	return resp.ID, nil
}

type graphFeedResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Message     string `json:"message"`
		CreatedTime string `json:"created_time"`
		From        struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"from"`
		// Parent is set on comment objects.
		Parent struct {
			ID string `json:"id"`
		} `json:"parent"`
	} `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

func (a *FacebookAdapter) FetchInbox(ctx context.Context, creds Credentials, externalID, cursor string) (*InboxPage, error) {
	q := url.Values{}
	q.Set("fields", "id,message,created_time,from,parent")
	q.Set("access_token", creds.AccessToken)
	q.Set("limit", "100")
	if cursor != "" {
		q.Set("after", cursor)
	}

	endpoint := fmt.Sprintf("%s/%s/feed_comments?%s", a.baseURL, url.PathEscape(externalID), q.Encode())

	var resp graphFeedResponse
	if err := doJSON(ctx, a.client, a.Name(), http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		return nil, err
	}

	page := &InboxPage{
		NextCursor: resp.Paging.Cursors.After,
		HasMore:    resp.Paging.Next != "",
	}
	for _, entry := range resp.Data {
		receivedAt, _ := time.Parse(time.RFC3339, entry.CreatedTime)
		item := InboundItem{
			PlatformItemID: entry.ID,
			Kind:           models.InboundKindMessage,
			SenderID:       entry.From.ID,
			SenderName:     entry.From.Name,
			Content:        entry.Message,
			ReceivedAt:     receivedAt,
		}
		if entry.Parent.ID != "" {
			item.Kind = models.InboundKindComment
			item.ParentPostID = entry.Parent.ID
		}
		page.Items = append(page.Items, item)
	}

	return page, nil
}

func (a *FacebookAdapter) Reply(ctx context.Context, creds Credentials, platformItemID, text string) error {
	values := url.Values{}
	values.Set("message", textutil.Truncate(text, facebookMaxLength))
	values.Set("access_token", creds.AccessToken)

	endpoint := fmt.Sprintf("%s/%s/comments", a.baseURL, url.PathEscape(platformItemID))

	var resp graphIDResponse
	return postForm(ctx, a.client, a.Name(), endpoint, values, &resp)
}
