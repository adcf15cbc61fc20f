package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPRunner invokes the strategy-execution service over HTTP. The service
// owns the AI reasoning and on-chain transaction flow; this client only ships
// the instruction and parses the execution report.
type HTTPRunner struct {
	endpoint string
	client   *http.Client
}

func NewHTTPRunner(endpoint string, timeout time.Duration) *HTTPRunner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPRunner{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRunner) Execute(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode runner request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create runner request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("runner request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read runner response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("runner HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var res Result
	if err := json.Unmarshal(respBody, &res); err != nil {
		return Result{}, fmt.Errorf("decode runner response: %w", err)
	}
	return res, nil
}
