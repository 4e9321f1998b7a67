// Package github is a thin authenticated client for the code-hosting API
// used by build plugins.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"buildagent/internal/auth"
)

// DefaultAPIURL is the public API endpoint.
const DefaultAPIURL = "https://api.github.com"

// Request describes one API call. Body is JSON-encoded when non-nil.
type Request struct {
	Method string
	Path   string
	Body   any
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client executes requests against APIURL.
type Client struct {
	APIURL     string
	HTTPClient *http.Client
}

func NewClient(apiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{APIURL: strings.TrimRight(apiURL, "/"), HTTPClient: http.DefaultClient}
}

// Execute sends req authenticated with creds and decodes the JSON response
// into out, which may be nil to discard it.
func (c *Client) Execute(ctx context.Context, creds auth.Credentials, req Request, out any) error {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("github: encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	url := c.APIURL + "/" + strings.TrimLeft(req.Path, "/")

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("github: building request: %w", err)
	}
	auth.Apply(httpReq.Header, creds)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("github: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("github: decoding response: %w", err)
	}
	return nil
}
