package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/alichu45/socialbot/internal/models"
)

const defaultTimeout = 30 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

// doJSON issues a JSON request and decodes the response into out. Transport
// failures and timeouts come back as transient; HTTP error statuses go
// through classifyStatus. Adapters build all their calls on this.
func doJSON(ctx context.Context, client *http.Client, p models.Platform, method, rawURL string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return transportError(p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyStatus(p, resp, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(p, KindTransientNetwork, resp.StatusCode, fmt.Sprintf("failed to decode response: %v", err))
	}
	return nil
}

// postForm is doJSON for platforms whose write endpoints take form values.
func postForm(ctx context.Context, client *http.Client, p models.Platform, rawURL string, values url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewBufferString(values.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return transportError(p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyStatus(p, resp, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(p, KindTransientNetwork, resp.StatusCode, fmt.Sprintf("failed to decode response: %v", err))
	}
	return nil
}

// transportError wraps a client error as transient. A context deadline is a
// timeout and is treated the same way.
func transportError(p models.Platform, err error) *Error {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		msg = "request timed out: " + msg
	}
	return newError(p, KindTransientNetwork, 0, msg)
}
