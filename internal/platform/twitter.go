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

const twitterMaxLength = 280

// TwitterAdapter speaks the X API v2.
type TwitterAdapter struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL string
}

func NewTwitterAdapter(logger *zap.Logger) *TwitterAdapter {
	return &TwitterAdapter{
		client:  newHTTPClient(),
		logger:  logger,
		baseURL: "https://api.twitter.com",
	}
}

func (a *TwitterAdapter) Name() models.Platform {
	return models.PlatformTwitter
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *TwitterAdapter) Publish(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	text := req.Content
	if req.MediaURL != "" {
		text = text + " " + req.MediaURL
	}
	body := map[string]any{
		"text": textutil.Truncate(text, twitterMaxLength),
	}

	var resp tweetResponse
	if err := doJSON(ctx, a.client, a.Name(), http.MethodPost, a.baseURL+"/2/tweets", a.headers(creds), body, &resp); err != nil {
		return "", err
	}

	a.logger.Debug("Tweet published", zap.String("tweet_id", resp.Data.ID))
	return resp.Data.ID, nil
}

type mentionsResponse struct {
	Data []struct {
		ID               string    `json:"id"`
		Text             string    `json:"text"`
		AuthorID         string    `json:"author_id"`
		CreatedAt        time.Time `json:"created_at"`
		ReferencedTweets []struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"referenced_tweets"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

func (a *TwitterAdapter) FetchInbox(ctx context.Context, creds Credentials, externalID, cursor string) (*InboxPage, error) {
	q := url.Values{}
	q.Set("max_results", "100")
	q.Set("tweet.fields", "author_id,created_at,referenced_tweets")
	q.Set("expansions", "author_id")
	if cursor != "" {
		q.Set("pagination_token", cursor)
	}

	endpoint := fmt.Sprintf("%s/2/users/%s/mentions?%s", a.baseURL, url.PathEscape(externalID), q.Encode())

	var resp mentionsResponse
	if err := doJSON(ctx, a.client, a.Name(), http.MethodGet, endpoint, a.headers(creds), nil, &resp); err != nil {
		return nil, err
	}

	usernames := make(map[string]string, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		usernames[u.ID] = u.Username
	}

	page := &InboxPage{
		NextCursor: resp.Meta.NextToken,
		HasMore:    resp.Meta.NextToken != "",
	}
	for _, tweet := range resp.Data {
		item := InboundItem{
			PlatformItemID: tweet.ID,
			Kind:           models.InboundKindMessage,
			SenderID:       tweet.AuthorID,
			SenderName:     usernames[tweet.AuthorID],
			Content:        tweet.Text,
			ReceivedAt:     tweet.CreatedAt,
		}
		// A mention replying to one of our tweets is a comment on that post.
		for _, ref := range tweet.ReferencedTweets {
			if ref.Type == "replied_to" {
				item.Kind = models.InboundKindComment
				item.ParentPostID = ref.ID
				break
			}
		}
		page.Items = append(page.Items, item)
	}

	return page, nil
}

func (a *TwitterAdapter) Reply(ctx context.Context, creds Credentials, platformItemID, text string) error {
	body := map[string]any{
		"text": textutil.Truncate(text, twitterMaxLength),
		"reply": map[string]any{
			"in_reply_to_tweet_id": platformItemID,
		},
	}

	var resp tweetResponse
	return doJSON(ctx, a.client, a.Name(), http.MethodPost, a.baseURL+"/2/tweets", a.headers(creds), body, &resp)
}

func (a *TwitterAdapter) headers(creds Credentials) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + creds.AccessToken,
	}
}
