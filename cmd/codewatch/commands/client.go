package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// apiClient is a thin HTTP client for the subset of codewatch's own HTTP
// API the CLI drives, carrying the caller-identity headers in place of
// session/cookie plumbing.
type apiClient struct {
	baseURL     string
	requesterID string
	login       string
	token       string
	hasOrgScope bool

	http *http.Client
}

func newAPIClient(baseURL, requesterID, login, token string, hasOrgScope bool) *apiClient {
	return &apiClient{
		baseURL:     baseURL,
		requesterID: requesterID,
		login:       login,
		token:       token,
		hasOrgScope: hasOrgScope,
		http:        http.DefaultClient,
	}
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader

	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request body: %w", err)
		}

		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.requesterID != "" {
		req.Header.Set("X-Audit-Requester", c.requesterID)
	}

	if c.login != "" {
		req.Header.Set("X-Audit-Login", c.login)
	}

	if c.token != "" {
		req.Header.Set("X-Audit-Token", c.token)
	}

	if c.hasOrgScope {
		req.Header.Set("X-Audit-Org-Scope", "true")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("client: %s %s: %d: %s", method, path, resp.StatusCode, string(payload))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}

	return nil
}
