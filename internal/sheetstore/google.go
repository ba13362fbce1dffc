package sheetstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

const sheetsAPIBase = "https://sheets.googleapis.com/v4/spreadsheets"

// Google's per-user quota for the values endpoints. Staying under it
// matters more than throughput: a 429 stalls the whole run for 30s.
const (
	requestWindow     = time.Minute
	requestsPerWindow = 90
)

// GoogleStore talks to the Sheets v4 values endpoints. All requests go
// through a sliding-window limiter; quota responses that slip through
// anyway surface as rate-limit failures for the retry policy.
type GoogleStore struct {
	baseURL     string
	accessToken string
	client      *http.Client
	limiter     *windowLimiter
}

// GoogleStoreOptions configures a GoogleStore.
type GoogleStoreOptions struct {
	AccessToken string
	BaseURL     string        // override for tests; defaults to the public API
	Timeout     time.Duration // per-request; defaults to 30s
}

// NewGoogleStore returns a store authenticated with the given token.
func NewGoogleStore(opts GoogleStoreOptions) *GoogleStore {
	base := opts.BaseURL
	if base == "" {
		base = sheetsAPIBase
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &GoogleStore{
		baseURL:     base,
		accessToken: opts.AccessToken,
		client:      &http.Client{Timeout: timeout},
		limiter:     newWindowLimiter(requestsPerWindow, requestWindow),
	}
}

// rangeFor builds the A1 range for one request: the whole sheet for
// reads, a single cell for writes.
func rangeFor(ref Ref, cell string) string {
	sheet := ref.Sheet
	switch {
	case sheet == "" && cell == "":
		return "A1:ZZ10000"
	case sheet == "":
		return cell
	case cell == "":
		return sheet
	}
	return sheet + "!" + cell
}

func (s *GoogleStore) Read(ctx context.Context, ref Ref) (domain.Grid, error) {
	endpoint := fmt.Sprintf("%s/%s/values/%s", s.baseURL,
		url.PathEscape(ref.Target), url.PathEscape(rangeFor(ref, "")))

	data, err := s.do(ctx, http.MethodGet, endpoint, nil, "read "+ref.String())
	if err != nil {
		return nil, err
	}

	var body struct {
		Values [][]any `json:"values"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("read %s: decode values: %w", ref, err)
	}

	grid := make(domain.Grid, len(body.Values))
	for i, row := range body.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		grid[i] = cells
	}
	return grid, nil
}

func (s *GoogleStore) Write(ctx context.Context, ref Ref, row, col int, value string) error {
	cell := domain.A1(row, col)
	endpoint := fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW", s.baseURL,
		url.PathEscape(ref.Target), url.PathEscape(rangeFor(ref, cell)))

	payload, err := json.Marshal(map[string]any{
		"values": [][]string{{value}},
	})
	if err != nil {
		return err
	}

	_, err = s.do(ctx, http.MethodPut, endpoint, payload, fmt.Sprintf("write %s %s", ref, cell))
	return err
}

func (s *GoogleStore) do(ctx context.Context, method, endpoint string, body []byte, op string) ([]byte, error) {
	if err := s.limiter.wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		category := domain.CategoryNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			category = domain.CategoryTimeout
		}
		return nil, &domain.Failure{Category: category, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, &domain.Failure{Category: domain.CategoryNetwork, Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrSheetUnavailable, op)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.Failure{
			StatusCode: resp.StatusCode,
			Op:         op,
			Err:        fmt.Errorf("sheets API: %s", http.StatusText(resp.StatusCode)),
		}
	}
	return data, nil
}
