package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/magickw/linkDAO-sub011/internal/config"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/models"
)

// RateSource produces exchange rates between assets.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (*models.ExchangeRate, error)
	Name() string
}

const rateConfidence = 0.95

// HTTPRateSource fetches rates from the exchange-rate API.
type HTTPRateSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// rateResponse is the rate API's quote payload
type rateResponse struct {
	Base      string  `json:"base"`
	Quote     string  `json:"quote"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// NewHTTPRateSource creates a rate source against the configured API
func NewHTTPRateSource(cfg *config.MarketConfig) *HTTPRateSource {
	return &HTTPRateSource{
		baseURL: cfg.RateBaseURL,
		apiKey:  cfg.RateAPIKey,
		client:  &http.Client{Timeout: cfg.RateTimeout},
	}
}

// Name identifies this source in samples and logs
func (s *HTTPRateSource) Name() string {
	return "rate-api"
}

// Rate fetches one conversion rate. Timeouts and 5xx responses surface as
// retryable provider errors; the caller decides whether to fall back.
func (s *HTTPRateSource) Rate(ctx context.Context, from, to string) (*models.ExchangeRate, error) {
	endpoint := fmt.Sprintf("%s/v1/rates?base=%s&quote=%s",
		s.baseURL, url.QueryEscape(from), url.QueryEscape(to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to create rate request", err)
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, apperrors.NewProviderTimeoutError(s.Name())
		}
		return nil, apperrors.NewProviderError(s.Name(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewProviderError(s.Name(), fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewProviderError(s.Name(), fmt.Errorf("rate API returned %d", resp.StatusCode))
	}

	var quote rateResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, apperrors.NewProviderError(s.Name(), fmt.Errorf("failed to parse rate response: %w", err))
	}

	if quote.Price <= 0 {
		return nil, apperrors.NewProviderError(s.Name(), fmt.Errorf("rate API returned non-positive price for %s/%s", from, to))
	}

	asOf := time.Now().UTC()
	if quote.Timestamp > 0 {
		asOf = time.Unix(quote.Timestamp, 0).UTC()
	}

	return &models.ExchangeRate{
		From:       from,
		To:         to,
		Rate:       quote.Price,
		Confidence: rateConfidence,
		Source:     s.Name(),
		AsOf:       asOf,
	}, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
