package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

// HTTPWorker talks to a chat-completions style HTTP endpoint. One request
// per Send; no streaming. Errors come back as *domain.Failure so the
// classifier can tell auth problems from rate limits from flaky networks.
type HTTPWorker struct {
	id      string
	url     string
	model   string
	apiKey  string
	headers map[string]string
	client  *http.Client
}

// HTTPWorkerOptions configures an HTTPWorker.
type HTTPWorkerOptions struct {
	ID      string
	URL     string
	Model   string
	APIKey  string
	Headers map[string]string
	Timeout time.Duration
}

// NewHTTPWorker builds a worker for one endpoint/model pair.
func NewHTTPWorker(opts HTTPWorkerOptions) (*HTTPWorker, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("worker %s: url is required", opts.ID)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPWorker{
		id:      opts.ID,
		url:     opts.URL,
		model:   opts.Model,
		apiKey:  opts.APIKey,
		headers: opts.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (w *HTTPWorker) ID() string { return w.id }

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Send posts the prompt and returns the first choice's content.
func (w *HTTPWorker) Send(ctx context.Context, prompt string) (string, error) {
	op := fmt.Sprintf("send to %s", w.id)

	body, err := json.Marshal(chatRequest{
		Model:    w.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		category := domain.CategoryNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			category = domain.CategoryTimeout
		}
		return "", &domain.Failure{Category: category, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", &domain.Failure{Category: domain.CategoryNetwork, Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &domain.Failure{
			StatusCode: resp.StatusCode,
			Op:         op,
			Err:        fmt.Errorf("unexpected response: %s", firstLine(data)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &domain.Failure{
			Category: domain.CategorySelector,
			Op:       op,
			Err:      fmt.Errorf("decode response: %w", err),
		}
	}
	if parsed.Error != nil {
		return "", &domain.Failure{
			Category: domain.CategorySelector,
			Op:       op,
			Err:      fmt.Errorf("service error: %s", parsed.Error.Message),
		}
	}
	if len(parsed.Choices) == 0 {
		return "", &domain.Failure{
			Category: domain.CategorySelector,
			Op:       op,
			Err:      fmt.Errorf("response has no choices"),
		}
	}

	return parsed.Choices[0].Message.Content, nil
}

// firstLine trims a response body down to something usable in an error
// cell.
func firstLine(data []byte) string {
	s := string(data)
	for i, r := range s {
		if r == '\n' || i > 200 {
			return s[:i]
		}
	}
	return s
}
