package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"vin-service/internal/domain/vin"
)

const scansPath = "/api/v1/vin/scans"

// Client submits validated scans to the VIN service.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Submit never returns a nil error together with a Transient or Permanent
// outcome. Saved and Duplicate come with a nil error.
func (c *Client) Submit(ctx context.Context, result vin.ScanResult) (vin.Outcome, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return vin.OutcomePermanentError, fmt.Errorf("encode scan: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+scansPath, bytes.NewReader(payload))
	if err != nil {
		return vin.OutcomePermanentError, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// сеть, таймаут и отмена контекста считаются временными ошибками
		return vin.OutcomeTransientError, fmt.Errorf("submit scan: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return vin.OutcomeTransientError, fmt.Errorf("read response: %w", err)
	}

	var decoded vin.SubmitResponse
	_ = json.Unmarshal(body, &decoded)

	outcome := Classify(resp.StatusCode, decoded, string(body))
	switch outcome {
	case vin.OutcomeSaved, vin.OutcomeDuplicate:
		return outcome, nil
	default:
		msg := decoded.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return outcome, fmt.Errorf("submit scan: status %d: %s", resp.StatusCode, msg)
	}
}

// Classify maps a backend response onto an outcome. Conflicts are recognised
// by status code, by the "duplicate" status field, or by an "already exists"
// message from older backends.
func Classify(statusCode int, resp vin.SubmitResponse, rawBody string) vin.Outcome {
	if statusCode == http.StatusConflict ||
		resp.Status == vin.StatusDuplicate ||
		strings.Contains(strings.ToLower(resp.Error), "already exists") ||
		(statusCode >= 400 && strings.Contains(strings.ToLower(rawBody), "already exists")) {
		return vin.OutcomeDuplicate
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return vin.OutcomeSaved
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		return vin.OutcomeTransientError
	default:
		return vin.OutcomePermanentError
	}
}
