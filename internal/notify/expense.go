package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// HTTPExpenseProvider reads running expense totals from the trip API.
type HTTPExpenseProvider struct {
	client *http.Client
	url    string
}

func NewHTTPExpenseProvider(client *http.Client, url string) *HTTPExpenseProvider {
	return &HTTPExpenseProvider{client: client, url: url}
}

func (p *HTTPExpenseProvider) SpentFraction(ctx context.Context) (float64, error) {
	if p.url == "" {
		return 0, errors.New("expense api url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch expenses: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch expenses: status %d", resp.StatusCode)
	}

	var body struct {
		Total  float64 `json:"total"`
		Budget float64 `json:"budget"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode expenses: %w", err)
	}
	if body.Budget <= 0 {
		return 0, errors.New("budget must be positive")
	}
	return body.Total / body.Budget, nil
}
