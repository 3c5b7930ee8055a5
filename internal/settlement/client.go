package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
)

// backendClient is the shared HTTP plumbing for settlement providers.
type backendClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func newBackendClient(name, baseURL, apiKey string, timeout time.Duration) *backendClient {
	return &backendClient{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// errorResponse is the provider's failure payload
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// doJSON performs one provider call and maps the outcome onto the error
// taxonomy: timeouts and 5xx/429 are transient, 402/422 are declines, other
// 4xx are conclusive rejections. Single-shot: retry policy belongs to the
// caller, which knows the session deadline.
func (c *backendClient) doJSON(ctx context.Context, method, path string, payload interface{}, dest interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return apperrors.NewInternalError("failed to encode settlement request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.NewInternalError("failed to create settlement request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return apperrors.NewProviderTimeoutError(c.name)
		}
		return apperrors.NewProviderError(c.name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewProviderError(c.name, fmt.Errorf("failed to read response: %w", err))
	}

	if err := c.checkStatus(resp.StatusCode, raw); err != nil {
		return err
	}

	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return apperrors.NewProviderError(c.name, fmt.Errorf("failed to parse response: %w", err))
		}
	}

	return nil
}

func (c *backendClient) checkStatus(status int, raw []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusPaymentRequired || status == http.StatusUnprocessableEntity:
		return apperrors.NewPaymentDeclinedError(c.name, declineReason(raw))
	case status == http.StatusNotFound:
		return apperrors.NewNotFoundError("settlement transaction", "")
	case status == http.StatusTooManyRequests || status >= 500:
		return apperrors.NewProviderError(c.name, fmt.Errorf("provider returned %d", status))
	default:
		return apperrors.NewInternalError(
			fmt.Sprintf("settlement request rejected by %s", c.name),
			fmt.Errorf("provider returned %d: %s", status, string(raw)))
	}
}

func declineReason(raw []byte) string {
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "declined"
	}
	if payload.Reason != "" {
		return payload.Reason
	}
	if payload.Error != "" {
		return payload.Error
	}
	return "declined"
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
