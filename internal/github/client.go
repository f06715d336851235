// Package github is a small client for the parts of the GitHub REST API used
// by API mode: repository zipballs and the Contents API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

// ErrInvalidURL is returned when a URL does not name a GitHub repository.
var ErrInvalidURL = errors.New("Invalid GitHub URL")

var repoURLPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/.]+)`)

// ParseRepoURL extracts owner and repository name from a GitHub URL.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	m := repoURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", "", ErrInvalidURL
	}
	return m[1], m[2], nil
}

// RepoName returns the repository part of a GitHub URL, or "" when the URL
// cannot be parsed.
func RepoName(raw string) string {
	_, repo, err := ParseRepoURL(raw)
	if err != nil {
		return ""
	}
	return repo
}

// Client talks to the GitHub REST API.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	downloadClient *http.Client
	retry          *RetryConfig
}

// NewClient creates a client. requestTimeout bounds ordinary calls and
// downloadTimeout bounds zipball downloads.
func NewClient(baseURL string, requestTimeout, downloadTimeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: requestTimeout},
		downloadClient: &http.Client{Timeout: downloadTimeout},
		retry:          DefaultRetryConfig(),
	}
}

// WithRetry replaces the retry policy used for idempotent reads.
func (c *Client) WithRetry(cfg *RetryConfig) *Client {
	c.retry = cfg
	return c
}

func (c *Client) repoURL(owner, repo, path string) string {
	return fmt.Sprintf("%s/repos/%s/%s%s", c.baseURL, url.PathEscape(owner), url.PathEscape(repo), path)
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, url, token string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "repodeploy")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

// DownloadZipball streams the archive of ref into w and returns the number of
// bytes written.
func (c *Client) DownloadZipball(ctx context.Context, owner, repo, ref, token string, w io.Writer) (int64, error) {
	u := c.repoURL(owner, repo, "/zipball/"+url.PathEscape(ref))

	resp, err := c.do(ctx, c.downloadClient, http.MethodGet, u, token, nil)
	if err != nil {
		return 0, fmt.Errorf("download zipball: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, decodeError(resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download zipball: %w", err)
	}
	return n, nil
}

// contentItem is the subset of a Contents API file object we read.
type contentItem struct {
	SHA  string `json:"sha"`
	Path string `json:"path"`
}

// GetContentSHA returns the blob SHA of path at ref, or "" if the file does
// not exist yet.
func (c *Client) GetContentSHA(ctx context.Context, owner, repo, path, ref, token string) (string, error) {
	u := c.repoURL(owner, repo, "/contents/"+escapePath(path))
	if ref != "" {
		u += "?ref=" + url.QueryEscape(ref)
	}

	var sha string
	err := c.retry.do(ctx, "get content sha", func() error {
		resp, err := c.do(ctx, c.httpClient, http.MethodGet, u, token, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			sha = ""
			return nil
		}
		if resp.StatusCode >= 400 {
			return decodeError(resp)
		}

		var item contentItem
		if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		sha = item.SHA
		return nil
	})
	return sha, err
}

// PutContentRequest is the body of a create-or-update file call.
type PutContentRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

// PutContentResponse is the subset of the Contents API response we use.
type PutContentResponse struct {
	Content struct {
		Path string `json:"path"`
		SHA  string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
		Message string `json:"message"`
	} `json:"commit"`
}

// PutContent creates or updates a single file. Writes are never retried.
func (c *Client) PutContent(ctx context.Context, owner, repo, path, token string, req *PutContentRequest) (*PutContentResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u := c.repoURL(owner, repo, "/contents/"+escapePath(path))
	resp, err := c.do(ctx, c.httpClient, http.MethodPut, u, token, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("put content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var out PutContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// APIError is a non-2xx response from GitHub. Body holds the raw response
// for diagnostics.
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error (%d): %s", e.Status, e.Message)
}

const maxErrorBody = 64 * 1024

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp struct {
		Message string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(raw, &errResp); err == nil {
		msg = errResp.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}

	return &APIError{
		Status:  resp.StatusCode,
		Message: msg,
		Body:    string(raw),
	}
}
