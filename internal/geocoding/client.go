package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const (
	searchPath = "/search/"

	retryInitialInterval = 200 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
)

// Candidate is one geocoded match.
type Candidate struct {
	Label string
	Score float64
}

// Query is a single best-match search.
type Query struct {
	Text       string
	PostalCode string
	Limit      int
}

// Client queries the national address API (api-adresse.data.gouv.fr).
// Transport failures and 5xx responses are retried up to maxAttempts times.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
}

// NewClient creates a geocoding client.
func NewClient(baseURL string, timeout time.Duration, maxAttempts int) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
	}
}

type searchResponse struct {
	Features []struct {
		Properties struct {
			Label string  `json:"label"`
			Score float64 `json:"score"`
		} `json:"properties"`
	} `json:"features"`
}

// Search implements Geocoder.
func (c *Client) Search(ctx context.Context, q Query) ([]Candidate, error) {
	params := url.Values{}
	params.Set("q", q.Text)
	params.Set("autocomplete", "0")
	params.Set("postcode", q.PostalCode)
	params.Set("limit", strconv.Itoa(q.Limit))
	endpoint := c.baseURL + searchPath + "?" + params.Encode()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying geocoding request", zap.Error(err), zap.Duration("after", d))
	}

	resp, err := backoff.RetryNotifyWithData(func() (*searchResponse, error) {
		return c.do(ctx, endpoint)
	}, policy, notify)
	if err != nil {
		observer.IncGeocodingRequest("error")
		return nil, err
	}
	observer.IncGeocodingRequest("ok")

	candidates := make([]Candidate, 0, len(resp.Features))
	for _, f := range resp.Features {
		candidates = append(candidates, Candidate{Label: f.Properties.Label, Score: f.Properties.Score})
	}
	return candidates, nil
}

func (c *Client) do(ctx context.Context, endpoint string) (*searchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build geocoding request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("geocoding request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("geocoding service returned %d", res.StatusCode)
	}
	if res.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("geocoding service returned %d", res.StatusCode))
	}

	var body searchResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode geocoding response: %w", err))
	}
	return &body, nil
}
