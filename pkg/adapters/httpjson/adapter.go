// Package httpjson provides the generic HTTP JSON capability adapter used to
// integrate hosted generation providers. The provider receives the stage
// request as a JSON document and answers with the stage output.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storyreel/storyreel/pkg/capability"
)

const defaultTimeout = 60 * time.Second

type Adapter struct {
	id      string
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

func NewAdapter(config map[string]any) (*Adapter, error) {
	id, _ := config["id"].(string)
	url, _ := config["url"].(string)
	method, _ := config["method"].(string)

	if url == "" {
		return nil, errors.New("httpjson adapter requires a url")
	}

	if id == "" {
		id = "httpjson"
	}

	if method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string)

	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersConfig {
			if value, ok := v.(string); ok {
				headers[k] = value
			}
		}
	}

	timeout := defaultTimeout
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &Adapter{
		id:      id,
		url:     url,
		method:  method,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (a *Adapter) ID() string {
	return a.id
}

func (a *Adapter) Invoke(ctx context.Context, req capability.Request) (*capability.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, capability.NewPermanent(a.id, fmt.Errorf("failed to encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, a.method, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, capability.NewPermanent(a.id, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, capability.NewTransient(a.id, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, capability.NewTransient(a.id, fmt.Errorf("failed to read response: %w", err))
	}

	err = classifyStatus(a.id, resp.StatusCode)
	if err != nil {
		return nil, err
	}

	var output map[string]any

	err = json.Unmarshal(payload, &output)
	if err != nil {
		// A malformed body from a healthy endpoint is worth the retry budget
		// before escalating to the fallback provider.
		return nil, capability.NewTransient(a.id, fmt.Errorf("provider returned malformed JSON: %w", err))
	}

	return &capability.Response{Output: output}, nil
}

func classifyStatus(adapter string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return capability.NewQuotaExceeded(adapter, fmt.Errorf("provider quota exhausted (status %d)", status))
	case status >= 500:
		return capability.NewTransient(adapter, fmt.Errorf("provider error (status %d)", status))
	default:
		return capability.NewPermanent(adapter, fmt.Errorf("provider rejected request (status %d)", status))
	}
}
