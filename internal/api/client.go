package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bz888/labchain-ml/internal/api/server"
	"github.com/bz888/labchain-ml/internal/api/server/handlers"
	"github.com/bz888/labchain-ml/internal/protocol"
)

const defaultTimeout = 30 * time.Second

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ml-server: %d %s", e.Code, e.Message)
}

type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse server url: %q is not absolute", baseURL)
	}
	return &Client{
		base:   base,
		apiKey: apiKey,
		http:   &http.Client{Timeout: defaultTimeout},
	}, nil
}

func (c *Client) Health(ctx context.Context) (handlers.HealthResponse, error) {
	var resp handlers.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

// Standardize posts text to /predict/standardize. An empty experimentID is
// sent as absent.
func (c *Client) Standardize(ctx context.Context, rawText, experimentID string) (protocol.Result, error) {
	body := handlers.StandardizeRequest{RawText: rawText}
	if experimentID != "" {
		body.ExperimentID = &experimentID
	}

	var result protocol.Result
	err := c.do(ctx, http.MethodPost, "/predict/standardize", body, &result)
	return result, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var buf io.Reader
	if in != nil {
		bts, err := json.Marshal(in)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(bts)
	}

	requestURL := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, requestURL.String(), buf)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(server.APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e handlers.ErrorResponse
		if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
