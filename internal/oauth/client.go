// Package oauth talks to the external token service that brokers GitHub
// App access for repodeploy, and keeps its session tokens in the state store.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/models"
)

// Settings keys persisted in the state store.
const (
	KeySessionToken = "oauth_token"
	KeyRefreshToken = "oauth_refresh_token"
	KeyLastRefresh  = "oauth_last_refresh"
	KeyUser         = "github_user"
)

// RefreshInterval is the minimum age of a session before RefreshIfDue
// renews it.
const RefreshInterval = 7*time.Hour + 50*time.Minute

var (
	ErrNotConnected   = errors.New("no session token, reconnect with GitHub")
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrSessionExpired = errors.New("session expired, reconnect with GitHub")
)

// ServiceError is a non-2xx response from the token service.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("token service error (HTTP %d): %s", e.Status, e.Message)
}

// KV is the persisted settings store.
type KV interface {
	GetValue(key string) (string, error)
	SetValues(values map[string]string) error
	DeleteValues(keys ...string) error
}

// Client calls the token service on behalf of the stored session.
type Client struct {
	baseURL    string
	kv         KV
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient returns a client for the service at baseURL.
func NewClient(baseURL string, kv KV, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		kv:         kv,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// envelope is the response shape of the service's /api endpoints.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SetTokens stores a new session, as delivered by the service callback.
func (c *Client) SetTokens(session, refresh string) error {
	values := map[string]string{
		KeySessionToken: session,
		KeyLastRefresh:  strconv.FormatInt(c.now().Unix(), 10),
	}
	if refresh != "" {
		values[KeyRefreshToken] = refresh
	}
	return c.kv.SetValues(values)
}

// Token returns the stored session token, or "" when disconnected. It is
// also the access token used for git and GitHub API calls.
func (c *Client) Token() string {
	token, err := c.kv.GetValue(KeySessionToken)
	if err != nil {
		c.logger.Warn("failed to read session token", zap.Error(err))
		return ""
	}
	return token
}

// Connected reports whether a session token is stored.
func (c *Client) Connected() bool {
	return c.Token() != ""
}

// Disconnect forgets the stored session.
func (c *Client) Disconnect() error {
	return c.kv.DeleteValues(KeySessionToken, KeyRefreshToken, KeyUser)
}

// Refresh exchanges the stored refresh token for a new session.
func (c *Client) Refresh(ctx context.Context) error {
	refresh, err := c.kv.GetValue(KeyRefreshToken)
	if err != nil {
		return err
	}
	if refresh == "" {
		return ErrNoRefreshToken
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/github/refresh", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to token service: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		SessionToken string `json:"session_token"`
		RefreshToken string `json:"refresh_token"`
		Error        string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK || out.SessionToken == "" {
		msg := out.Error
		if msg == "" {
			msg = "failed to refresh token"
		}
		return &ServiceError{Status: resp.StatusCode, Message: msg}
	}

	if err := c.SetTokens(out.SessionToken, out.RefreshToken); err != nil {
		return fmt.Errorf("store refreshed session: %w", err)
	}
	c.logger.Info("session token refreshed")
	return nil
}

// RefreshIfDue refreshes the session when RefreshInterval has passed since
// the last refresh. It reports whether a refresh was performed.
func (c *Client) RefreshIfDue(ctx context.Context) (bool, error) {
	last, err := c.kv.GetValue(KeyLastRefresh)
	if err != nil {
		return false, err
	}
	if ts, err := strconv.ParseInt(last, 10, 64); err == nil {
		if c.now().Sub(time.Unix(ts, 0)) < RefreshInterval {
			return false, nil
		}
	}
	if err := c.Refresh(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// request performs an authenticated call and decodes the envelope data
// into out. A 401 drops the stored session.
func (c *Client) request(ctx context.Context, method, endpoint string, out any) error {
	token := c.Token()
	if token == "" {
		refresh, err := c.kv.GetValue(KeyRefreshToken)
		if err != nil {
			return err
		}
		if refresh == "" {
			return ErrNotConnected
		}
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		token = c.Token()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to token service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read token service response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if err := c.Disconnect(); err != nil {
			c.logger.Error("failed to clear expired session", zap.Error(err))
		}
		c.logger.Warn("token service rejected the session", zap.String("endpoint", endpoint))
		return ErrSessionExpired
	}

	var env envelope
	jsonErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Error
		if jsonErr != nil || msg == "" {
			msg = string(raw)
		}
		return &ServiceError{Status: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil {
		return fmt.Errorf("decode token service response: %w", jsonErr)
	}
	if !env.Success && env.Error != "" {
		return &ServiceError{Status: resp.StatusCode, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// UserInfo returns the connected GitHub account and caches it.
func (c *Client) UserInfo(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.request(ctx, http.MethodGet, "/api/github/user", &user); err != nil {
		return nil, err
	}
	if data, err := json.Marshal(user); err == nil {
		if err := c.kv.SetValues(map[string]string{KeyUser: string(data)}); err != nil {
			c.logger.Warn("failed to cache user", zap.Error(err))
		}
	}
	return &user, nil
}

// CachedUser returns the account stored by the last UserInfo call.
func (c *Client) CachedUser() (*models.User, error) {
	data, err := c.kv.GetValue(KeyUser)
	if err != nil || data == "" {
		return nil, err
	}
	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type installationPayload struct {
	ID         int64  `json:"id"`
	TargetType string `json:"target_type"`
	Account    struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"account"`
}

// Installations lists the GitHub App installations visible to the user.
func (c *Client) Installations(ctx context.Context) ([]models.Installation, error) {
	var data struct {
		Installations []installationPayload `json:"installations"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/github/installations", &data); err != nil {
		return nil, err
	}

	out := make([]models.Installation, 0, len(data.Installations))
	for _, inst := range data.Installations {
		typ := inst.Account.Type
		if typ == "" {
			typ = inst.TargetType
		}
		out = append(out, models.Installation{ID: inst.ID, Account: inst.Account.Login, Type: typ})
	}
	return out, nil
}

// InstallationRepositories lists the repositories of one installation.
func (c *Client) InstallationRepositories(ctx context.Context, installationID int64) ([]models.RemoteRepository, error) {
	var raw json.RawMessage
	endpoint := "/api/github/installations/" + strconv.FormatInt(installationID, 10) + "/repositories"
	if err := c.request(ctx, http.MethodGet, endpoint, &raw); err != nil {
		return nil, err
	}
	var repos []models.RemoteRepository
	if err := decodeList(raw, "repositories", &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// Repositories lists the repositories of owner, an "org" or a "user".
func (c *Client) Repositories(ctx context.Context, owner, ownerType string) ([]models.RemoteRepository, error) {
	if ownerType == "" {
		ownerType = "user"
	}
	var raw json.RawMessage
	endpoint := "/api/github/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(ownerType)
	if err := c.request(ctx, http.MethodGet, endpoint, &raw); err != nil {
		return nil, err
	}
	var repos []models.RemoteRepository
	if err := decodeList(raw, "repositories", &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// Branches lists the branches of owner/repo.
func (c *Client) Branches(ctx context.Context, owner, repo string) ([]models.Branch, error) {
	var raw json.RawMessage
	endpoint := "/api/github/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/branches"
	if err := c.request(ctx, http.MethodGet, endpoint, &raw); err != nil {
		return nil, err
	}
	var branches []models.Branch
	if err := decodeList(raw, "branches", &branches); err != nil {
		return nil, err
	}
	return branches, nil
}

// decodeList accepts either a bare JSON array or an object holding the
// array under key.
func decodeList(raw json.RawMessage, key string, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		return json.Unmarshal(raw, out)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	list, ok := obj[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(list, out)
}

// DefaultBranch picks main or master when present, else the first branch.
func DefaultBranch(branches []models.Branch) string {
	for _, preferred := range []string{"main", "master"} {
		for _, b := range branches {
			if b.Name == preferred {
				return preferred
			}
		}
	}
	if len(branches) > 0 {
		return branches[0].Name
	}
	return ""
}
