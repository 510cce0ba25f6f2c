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

const threadsMaxLength = 500

// ThreadsAdapter speaks the Threads API, which mirrors the Instagram
// container-then-publish flow.
type ThreadsAdapter struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL string
}

func NewThreadsAdapter(logger *zap.Logger) *ThreadsAdapter {
	return &ThreadsAdapter{
		client:  newHTTPClient(),
		logger:  logger,
		baseURL: "https://graph.threads.net/v1.0",
	}
}

func (a *ThreadsAdapter) Name() models.Platform {
	return models.PlatformThreads
}

func (a *ThreadsAdapter) Publish(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	values := url.Values{}
	values.Set("text", textutil.Truncate(req.Content, threadsMaxLength))
	values.Set("access_token", creds.AccessToken)
	if req.MediaURL != "" {
		values.Set("media_type", "IMAGE")
		values.Set("image_url", req.MediaURL)
	} else {
		values.Set("media_type", "TEXT")
	}

	var container graphIDResponse
	if err := postForm(ctx, a.client, a.Name(), a.baseURL+"/me/threads", values, &container); err != nil {
		return "", err
	}

	publishValues := url.Values{}
	publishValues.Set("creation_id", container.ID)
	publishValues.Set("access_token", creds.AccessToken)

	var published graphIDResponse
	if err := postForm(ctx, a.client, a.Name(), a.baseURL+"/me/threads_publish", publishValues, &published); err != nil {
		return "", err
	}

	a.logger.Debug("Threads post published", zap.String("thread_id", published.ID))
	return published.ID, nil
}

type threadsRepliesResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		Timestamp string `json:"timestamp"`
		Username  string `json:"username"`
		Owner     struct {
			ID string `json:"id"`
		} `json:"owner"`
		RootPost struct {
			ID string `json:"id"`
		} `json:"root_post"`
	} `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

func (a *ThreadsAdapter) FetchInbox(ctx context.Context, creds Credentials, externalID, cursor string) (*InboxPage, error) {
	q := url.Values{}
	q.Set("fields", "id,text,timestamp,username,owner,root_post")
	q.Set("access_token", creds.AccessToken)
	q.Set("limit", "50")
	if cursor != "" {
		q.Set("after", cursor)
	}

	endpoint := fmt.Sprintf("%s/%s/replies?%s", a.baseURL, url.PathEscape(externalID), q.Encode())

	var resp threadsRepliesResponse
	if err := doJSON(ctx, a.client, a.Name(), http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		return nil, err
	}

	page := &InboxPage{
		NextCursor: resp.Paging.Cursors.After,
		HasMore:    resp.Paging.Next != "",
	}
	for _, reply := range resp.Data {
		receivedAt, _ := time.Parse(time.RFC3339, reply.Timestamp)
		page.Items = append(page.Items, InboundItem{
			PlatformItemID: reply.ID,
			Kind:           models.InboundKindComment,
			SenderID:       reply.Owner.ID,
			SenderName:     reply.Username,
			Content:        reply.Text,
			ReceivedAt:     receivedAt,
			ParentPostID:   reply.RootPost.ID,
		})
	}

	return page, nil
}

func (a *ThreadsAdapter) Reply(ctx context.Context, creds Credentials, platformItemID, text string) error {
	values := url.Values{}
	values.Set("text", textutil.Truncate(text, threadsMaxLength))
	values.Set("media_type", "TEXT")
	values.Set("reply_to_id", platformItemID)
	values.Set("access_token", creds.AccessToken)

	var container graphIDResponse
	if err := postForm(ctx, a.client, a.Name(), a.baseURL+"/me/threads", values, &container); err != nil {
		return err
	}

	publishValues := url.Values{}
	publishValues.Set("creation_id", container.ID)
	publishValues.Set("access_token", creds.AccessToken)

	var published graphIDResponse
	return postForm(ctx, a.client, a.Name(), a.baseURL+"/me/threads_publish", publishValues, &published)
}
