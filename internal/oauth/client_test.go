package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/repodeploy/internal/models"
)

type memKV struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemKV() *memKV { return &memKV{values: map[string]string{}} }

func (m *memKV) GetValue(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memKV) SetValues(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *memKV) DeleteValues(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *memKV) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	kv := newMemKV()
	return NewClient(srv.URL, kv, 5*time.Second, nil), kv
}

func TestUserInfo(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/github/user", r.URL.Path)
		assert.Equal(t, "Bearer sess", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]string{"login": "octo", "name": "Octo Cat"},
		})
	}))
	require.NoError(t, c.SetTokens("sess", "ref"))

	user, err := c.UserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octo", user.Login)

	cached, err := c.CachedUser()
	require.NoError(t, err)
	assert.Equal(t, "Octo Cat", cached.Name)
}

func TestRequest_NotConnected(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	_, err := c.UserInfo(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRequest_UnauthorizedClearsTokens(t *testing.T) {
	c, kv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "expired"})
	}))
	require.NoError(t, c.SetTokens("sess", "ref"))

	_, err := c.Branches(context.Background(), "acme", "shop")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, c.Connected())
	refresh, _ := kv.GetValue(KeyRefreshToken)
	assert.Empty(t, refresh)
}

func TestRequest_RefreshesWhenOnlyRefreshTokenStored(t *testing.T) {
	c, kv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/github/refresh":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ref", body["refresh_token"])
			writeJSON(w, http.StatusOK, map[string]string{"session_token": "new-sess", "refresh_token": "new-ref"})
		case "/api/github/repos/acme/shop/branches":
			assert.Equal(t, "Bearer new-sess", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    []map[string]any{{"name": "develop"}, {"name": "main", "protected": true}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	require.NoError(t, kv.SetValues(map[string]string{KeyRefreshToken: "ref"}))

	branches, err := c.Branches(context.Background(), "acme", "shop")
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.True(t, branches[1].Protected)
	assert.Equal(t, "main", DefaultBranch(branches))
	assert.Equal(t, "new-sess", c.Token())
}

func TestRequest_ServiceError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": "GitHub unavailable"})
	}))
	require.NoError(t, c.SetTokens("sess", ""))

	_, err := c.Installations(context.Background())
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Equal(t, "GitHub unavailable", se.Message)
}

func TestInstallations(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{"installations": []map[string]any{
				{"id": 7, "target_type": "Organization", "account": map[string]string{"login": "acme"}},
			}},
		})
	}))
	require.NoError(t, c.SetTokens("sess", ""))

	insts, err := c.Installations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Installation{{ID: 7, Account: "acme", Type: "Organization"}}, insts)
}

func TestInstallationRepositories_ObjectShape(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/github/installations/7/repositories", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{"repositories": []map[string]any{
				{"name": "shop", "full_name": "acme/shop", "private": true},
			}},
		})
	}))
	require.NoError(t, c.SetTokens("sess", ""))

	repos, err := c.InstallationRepositories(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "acme/shop", repos[0].FullName)
	assert.True(t, repos[0].Private)
}

func TestRefresh_Failure(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid refresh token"})
	}))
	require.NoError(t, c.SetTokens("sess", "ref"))

	err := c.Refresh(context.Background())
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "invalid refresh token", se.Message)
	assert.Equal(t, "sess", c.Token())
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())
	assert.ErrorIs(t, c.Refresh(context.Background()), ErrNoRefreshToken)
}

func TestRefreshIfDue(t *testing.T) {
	var calls atomic.Int32
	c, kv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"session_token": "s2", "refresh_token": "r2"})
	}))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	require.NoError(t, c.SetTokens("s1", "r1"))

	refreshed, err := c.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)

	now = now.Add(RefreshInterval)
	refreshed, err = c.RefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, int32(1), calls.Load())

	last, _ := kv.GetValue(KeyLastRefresh)
	assert.Equal(t, strconv.FormatInt(now.Unix(), 10), last)
}

func TestDefaultBranch(t *testing.T) {
	assert.Equal(t, "master", DefaultBranch([]models.Branch{{Name: "dev"}, {Name: "master"}}))
	assert.Equal(t, "dev", DefaultBranch([]models.Branch{{Name: "dev"}, {Name: "feature"}}))
	assert.Equal(t, "", DefaultBranch(nil))
}
