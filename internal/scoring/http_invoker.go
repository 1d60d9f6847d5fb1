package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartsure/smartsure/internal/retry"
)

// HTTPInvoker calls a remote scoring service over HTTP. Each operation is a
// POST to {baseURL}/api/{operation} with a bearer token.
type HTTPInvoker struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPInvoker creates an invoker for a remote scoring service.
func NewHTTPInvoker(baseURL, apiKey string, timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   "remote",
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPInvoker) Model() string { return h.model }

func (h *HTTPInvoker) EstimateDamage(ctx context.Context, req Request) (*DamageEstimate, error) {
	var estimate DamageEstimate
	if err := h.post(ctx, OpEstimateDamage, req, &estimate); err != nil {
		return nil, err
	}
	return &estimate, nil
}

func (h *HTTPInvoker) AssessFraud(ctx context.Context, req Request) (*FraudAssessment, error) {
	var assessment FraudAssessment
	if err := h.post(ctx, OpAssessFraud, req, &assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}

// post sends one scoring call. Client errors (4xx) are permanent; the
// engine's retry loop will not repeat them.
func (h *HTTPInvoker) post(ctx context.Context, op Operation, req Request, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to encode scoring request: %w", err))
	}

	url := fmt.Sprintf("%s/api/%s", h.baseURL, op)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("scoring call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("scoring service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode scoring response: %w", err)
	}
	return nil
}

var _ Invoker = (*HTTPInvoker)(nil)
