// Package linear is a small Linear GraphQL client and the sync-facing
// tracker built on it.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dt-pm-tools/jira-sync/internal/config"
)

// DefaultURL is the public GraphQL endpoint.
const DefaultURL = "https://api.linear.app/graphql"

// GraphQLError is one entry of a response's errors array.
type GraphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
		Type string `json:"type"`
	} `json:"extensions"`
}

// APIError is a failed GraphQL request: either a non-2xx status or a
// response carrying errors.
type APIError struct {
	StatusCode int
	Operation  string
	Errors     []GraphQLError
	Body       string
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("Linear API returned %d for %s: %s", e.StatusCode, e.Operation, e.Body)
	}
	msgs := make([]string, len(e.Errors))
	for i, ge := range e.Errors {
		msgs[i] = ge.Message
	}
	return fmt.Sprintf("Linear API error for %s: %s", e.Operation, strings.Join(msgs, "; "))
}

// Temporary reports whether the request may succeed if retried later.
func (e *APIError) Temporary() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return true
	}
	return e.hasCode("RATELIMITED")
}

func (e *APIError) hasCode(code string) bool {
	for _, ge := range e.Errors {
		if strings.EqualFold(ge.Extensions.Code, code) {
			return true
		}
	}
	return false
}

// NotFound reports whether err says the requested entity does not exist.
func NotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusNotFound || apiErr.hasCode("ENTITY_NOT_FOUND") {
		return true
	}
	for _, ge := range apiErr.Errors {
		if strings.Contains(strings.ToLower(ge.Message), "entity not found") {
			return true
		}
	}
	return false
}

// Client is a Linear GraphQL API client authenticated with a personal API
// key.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client from the given config.
func NewClient(cfg config.LinearConfig) *Client {
	return NewWithURL(cfg.URL, cfg.APIKey, &http.Client{Timeout: cfg.Timeout})
}

// NewWithURL creates a client against an explicit endpoint.
func NewWithURL(endpoint, apiKey string, httpClient *http.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{url: endpoint, apiKey: apiKey, httpClient: httpClient}
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// do runs one operation and decodes its data object into out. op names the
// operation in errors.
func (c *Client) do(ctx context.Context, op, query string, vars map[string]any, out any) error {
	data, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var body response
	if err := json.Unmarshal(raw, &body); err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > 4096 {
			raw = raw[:4096]
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Operation:  op,
			Errors:     body.Errors,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if len(body.Errors) > 0 {
		return &APIError{StatusCode: resp.StatusCode, Operation: op, Errors: body.Errors}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", op, err)
	}
	return nil
}
