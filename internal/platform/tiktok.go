package platform

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/alichu45/socialbot/internal/models"
	"github.com/alichu45/socialbot/pkg/textutil"
)

const tiktokMaxLength = 2200

// TikTokAdapter speaks the TikTok open API. Posts go out as photo/text
// content published from a URL; TikTok paginates comments with numeric
// cursors instead of opaque tokens.
type TikTokAdapter struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL string
}

func NewTikTokAdapter(logger *zap.Logger) *TikTokAdapter {
	return &TikTokAdapter{
		client:  newHTTPClient(),
		logger:  logger,
		baseURL: "https://open.tiktokapis.com",
	}
}

func (a *TikTokAdapter) Name() models.Platform {
	return models.PlatformTikTok
}

type tiktokPublishResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *TikTokAdapter) Publish(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	body := map[string]any{
		"post_info": map[string]any{
			"title":        textutil.Truncate(req.Content, tiktokMaxLength),
			"privacy_level": "PUBLIC_TO_EVERYONE",
		},
		"source_info": map[string]any{
			"source": "PULL_FROM_URL",
		},
	}
	if req.MediaURL != "" {
		body["source_info"].(map[string]any)["photo_images"] = []string{req.MediaURL}
	}

	var resp tiktokPublishResponse
	if err := doJSON(ctx, a.client, a.Name(), http.MethodPost, a.baseURL+"/v2/post/publish/content/init/", a.headers(creds), body, &resp); err != nil {
		return "", err
	}

	// TikTok reports some failures inside a 200 envelope.
	if resp.Error.Code != "" && resp.Error.Code != "ok" {
		return "", newError(a.Name(), KindContentRejected, http.StatusOK, resp.Error.Message)
	}

	a.logger.Debug("TikTok post published", zap.String("publish_id", resp.Data.PublishID))
	return resp.Data.PublishID, nil
}

type tiktokCommentsResponse struct {
	Data struct {
		Comments []struct {
			ID         string `json:"id"`
			VideoID    string `json:"video_id"`
			Text       string `json:"text"`
			CreateTime int64  `json:"create_time"`
			User       struct {
				OpenID      string `json:"open_id"`
				DisplayName string `json:"display_name"`
			} `json:"user"`
		} `json:"comments"`
		Cursor  string `json:"cursor"`
		HasMore bool   `json:"has_more"`
	} `json:"data"`
}

func (a *TikTokAdapter) FetchInbox(ctx context.Context, creds Credentials, externalID, cursor string) (*InboxPage, error) {
	body := map[string]any{
		"open_id":   externalID,
		"max_count": 50,
	}
	if cursor != "" {
		body["cursor"] = cursor
	}

	var resp tiktokCommentsResponse
	if err := doJSON(ctx, a.client, a.Name(), http.MethodPost, a.baseURL+"/v2/comment/list/", a.headers(creds), body, &resp); err != nil {
		return nil, err
	}

	page := &InboxPage{
		NextCursor: resp.Data.Cursor,
		HasMore:    resp.Data.HasMore,
	}
	for _, comment := range resp.Data.Comments {
		page.Items = append(page.Items, InboundItem{
			PlatformItemID: comment.ID,
			Kind:           models.InboundKindComment,
			SenderID:       comment.User.OpenID,
			SenderName:     comment.User.DisplayName,
			Content:        comment.Text,
			ReceivedAt:     time.Unix(comment.CreateTime, 0).UTC(),
			ParentPostID:   comment.VideoID,
		})
	}

	return page, nil
}

func (a *TikTokAdapter) Reply(ctx context.Context, creds Credentials, platformItemID, text string) error {
	body := map[string]any{
		"comment_id": platformItemID,
		"text":       textutil.Truncate(text, tiktokMaxLength),
	}

	return doJSON(ctx, a.client, a.Name(), http.MethodPost, a.baseURL+"/v2/comment/reply/", a.headers(creds), body, nil)
}

func (a *TikTokAdapter) headers(creds Credentials) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + creds.AccessToken,
	}
}
