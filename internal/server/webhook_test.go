package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWebhookNotifier_EmptyURLs(t *testing.T) {
	wn := NewWebhookNotifier(nil, zap.NewNop())
	assert.Nil(t, wn)
}

func TestWebhookNotifier_Notify_NilReceiver(t *testing.T) {
	var wn *WebhookNotifier
	wn.Notify(WebhookEvent{Event: EventClone, Repository: "acme"})
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var mu sync.Mutex
	var received []WebhookEvent

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event WebhookEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier([]string{ts.URL}, zap.NewNop())
	require.NotNil(t, wn)

	wn.Notify(WebhookEvent{Event: EventSwitch, Repository: "acme", Branch: "develop", JobID: "job_1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventSwitch, received[0].Event)
	assert.Equal(t, "acme", received[0].Repository)
	assert.Equal(t, "develop", received[0].Branch)
	assert.Equal(t, "job_1", received[0].JobID)
	assert.NotEmpty(t, received[0].Timestamp)
}

func TestWebhookNotifier_Notify_MultipleURLs(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	ts1 := httptest.NewServer(handler)
	defer ts1.Close()
	ts2 := httptest.NewServer(handler)
	defer ts2.Close()

	wn := NewWebhookNotifier([]string{ts1.URL, ts2.URL}, zap.NewNop())
	wn.Notify(WebhookEvent{Event: EventUpdate, Repository: "acme"})

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookNotifier_Post_4xxNoRetry(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier([]string{ts.URL}, zap.NewNop())
	err := wn.post(ts.URL, []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookNotifier_Post_5xxRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier([]string{ts.URL}, zap.NewNop())
	wn.backoff = time.Millisecond
	require.NoError(t, wn.post(ts.URL, []byte(`{}`)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_Post_NoSleepAfterLastAttempt(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier([]string{ts.URL}, zap.NewNop())
	wn.backoff = 150 * time.Millisecond

	// Two backoffs of 150ms and 300ms sit between the three attempts.
	start := time.Now()
	err := wn.post(ts.URL, []byte(`{}`))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, elapsed, 450*time.Millisecond)
	assert.Less(t, elapsed, 800*time.Millisecond)
}
