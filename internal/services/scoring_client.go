package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ledgerx/backend/internal/models"
	"github.com/sony/gobreaker"
)

// HTTPScoringClient calls the anomaly detection service over HTTP.
type HTTPScoringClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
}

func NewHTTPScoringClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker) *HTTPScoringClient {
	return &HTTPScoringClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cb:         cb,
	}
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

// Score posts the feature snapshot to /v1/score and returns the raw score.
// Range checks are left to the caller.
func (c *HTTPScoringClient) Score(ctx context.Context, features models.RiskFeatures) (float64, error) {
	result, err := c.cb.Execute(func() (any, error) {
		body, err := json.Marshal(features)
		if err != nil {
			return nil, err
		}

		url := fmt.Sprintf("%s/v1/score", c.baseURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("scoring API returned status %d", resp.StatusCode)
		}

		var out scoreResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedScore, err)
		}
		if out.Score == nil {
			return nil, fmt.Errorf("%w: missing score", ErrMalformedScore)
		}
		return *out.Score, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}
