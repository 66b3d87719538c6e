package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nestor-home/nestor/pkg/config"
	"github.com/nestor-home/nestor/pkg/httpclient"
)

// CodeType tells the engine how to validate a file.
type CodeType string

const (
	CodeTypeAutomation CodeType = "automation"
	CodeTypeLibrary    CodeType = "library"
)

// Automation is one deployed automation as reported by the engine.
type Automation struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// LibraryModule describes a deployed library module.
type LibraryModule struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Functions   []string `json:"functions"`
}

// ValidationResult is the engine's verdict on one file.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Client consumes the execution engine's REST surface. Read endpoints degrade
// to empty defaults on transport failure so planning can continue with partial
// information; Validate synthesizes a failing result instead.
type Client struct {
	baseURL      string
	maxBodyBytes int64
	httpClient   *httpclient.Client
}

func NewClientFromConfig(cfg *config.EngineConfig) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		maxBodyBytes: cfg.MaxBodyBytes,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfter),
		),
	}
}

// Topics lists all MQTT topics the engine has discovered.
func (c *Client) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	if err := c.getJSON(ctx, "/topics", &topics); err != nil {
		return degradeRead(ctx, "topics", err, []string{})
	}
	return topics, nil
}

// Automations lists deployed automations.
func (c *Client) Automations(ctx context.Context) ([]Automation, error) {
	var automations []Automation
	if err := c.getJSON(ctx, "/automations", &automations); err != nil {
		return degradeRead(ctx, "automations", err, []Automation{})
	}
	return automations, nil
}

// Libraries lists deployed library modules.
func (c *Client) Libraries(ctx context.Context) ([]LibraryModule, error) {
	var libraries []LibraryModule
	if err := c.getJSON(ctx, "/library", &libraries); err != nil {
		return degradeRead(ctx, "library", err, []LibraryModule{})
	}
	return libraries, nil
}

// LibrarySource fetches the source text of one library module.
func (c *Client) LibrarySource(ctx context.Context, name string) (string, error) {
	resp, err := c.get(ctx, "/library/"+url.PathEscape(name))
	if err != nil {
		return degradeRead(ctx, "library source", err, "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return degradeRead(ctx, "library source", err, "")
	}
	return string(body), nil
}

// GlobalStateSchema maps global-state key patterns to the automations that
// write them.
func (c *Client) GlobalStateSchema(ctx context.Context) (map[string][]string, error) {
	schema := map[string][]string{}
	if err := c.getJSON(ctx, "/global-state-schema", &schema); err != nil {
		return degradeRead(ctx, "global-state-schema", err, map[string][]string{})
	}
	return schema, nil
}

// Validate submits code for validation. Transport failures are reported as a
// synthetic invalid result so the repair loop still runs.
func (c *Client) Validate(ctx context.Context, code string, codeType CodeType) ValidationResult {
	payload, err := json.Marshal(map[string]string{
		"code": code,
		"type": string(codeType),
	})
	if err != nil {
		return transportFailure(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", bytes.NewReader(payload))
	if err != nil {
		return transportFailure(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("engine validate request failed", "error", err)
		return transportFailure(err)
	}
	defer resp.Body.Close()

	var result ValidationResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes)).Decode(&result); err != nil {
		slog.Warn("engine validate response unreadable", "error", err)
		return transportFailure(err)
	}
	return result
}

func transportFailure(err error) ValidationResult {
	return ValidationResult{
		Valid:  false,
		Errors: []string{fmt.Sprintf("Validation request failed: %v", err)},
	}
}

// Healthy reports whether the engine answers at all.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.get(ctx, "/topics")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes)).Decode(out)
}

// degradeRead converts a read-endpoint failure into the caller's empty default
// unless the session itself was cancelled.
func degradeRead[T any](ctx context.Context, endpoint string, err error, empty T) (T, error) {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return empty, err
	}
	slog.Warn("engine read failed, continuing with empty result", "endpoint", endpoint, "error", err)
	return empty, nil
}
