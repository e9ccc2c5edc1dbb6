package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"treesync/internal/models"
)

const defaultRESTTimeout = 30 * time.Second

// REST talks to a Realtime-Database style JSON endpoint where every path is
// addressable as {base}/{path}.json and absent paths read as null.
type REST struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewREST creates a REST record store. A zero timeout uses the default.
func NewREST(baseURL, authToken string, timeout time.Duration) (*REST, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("rest record store url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid rest record store url: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultRESTTimeout
	}
	return &REST{
		baseURL:   baseURL,
		authToken: strings.TrimSpace(authToken),
		http:      &http.Client{Timeout: timeout},
	}, nil
}

func (r *REST) Get(ctx context.Context, path string) (any, bool, error) {
	var value any
	if err := r.do(ctx, http.MethodGet, path, nil, &value); err != nil {
		return nil, false, err
	}
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (r *REST) Set(ctx context.Context, path string, value any) error {
	if value == nil {
		return r.do(ctx, http.MethodDelete, path, nil, nil)
	}
	return r.do(ctx, http.MethodPut, path, value, nil)
}

func (r *REST) endpoint(path string) string {
	segments := models.SplitPath(path)
	escaped := make([]string, len(segments))
	for i, segment := range segments {
		escaped[i] = url.PathEscape(segment)
	}
	endpoint := r.baseURL + "/" + strings.Join(escaped, "/") + ".json"
	if r.authToken != "" {
		endpoint += "?" + url.Values{"auth": []string{r.authToken}}.Encode()
	}
	return endpoint
}

func (r *REST) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.endpoint(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	op := strings.ToLower(method)
	resp, err := r.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return models.NewStoreError(op, path, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return models.NewStoreError(op, path, transient, fmt.Errorf("status %d: %s", resp.StatusCode, restErrorMessage(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.NewStoreError(op, path, false, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// restErrorMessage extracts {"error": "..."} bodies and falls back to the raw text.
func restErrorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
