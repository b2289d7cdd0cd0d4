package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"ehrsync/internal/config"
	"ehrsync/internal/domain/sync"
)

func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(config.Central{
		URL:            srv.URL,
		Timeout:        time.Second,
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, slog.Default())
	require.NoError(t, err)
	return c
}

func TestNewHTTPClient_InvalidURL(t *testing.T) {
	_, err := NewHTTPClient(config.Central{URL: "not a url"}, slog.Default())
	assert.ErrorIs(t, err, sync.ErrInvalidConfig)
}

func TestHTTPClient_StartSyncSession(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sync", r.URL.Path)
		_, _ = w.Write([]byte(`{"sessionId":"s1","tick":"41"}`))
	}))

	session, err := c.StartSyncSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &sync.Session{ID: "s1", StartedAtTick: 41}, session)
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "/api/sync/s1/pull/initiate", r.URL.Path)
		var req sync.InitiatePullRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, sync.Tick(10), req.Since)
		_, _ = w.Write([]byte(`{"totalToPull":3,"pullUntil":"20"}`))
	}))

	window, err := c.InitiatePull(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, &sync.PullWindow{TotalToPull: 3, PullUntil: 20}, window)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	err := c.CompletePush(context.Background(), "s1")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, int32(4), calls.Load())
}

func TestHTTPClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"title":"Conflict","status":409,"detail":"session s1 errored"}`))
	}))

	err := c.Push(context.Background(), "s1", []sync.Change{{RecordType: "patients", RecordID: "p1"}}, sync.PushProgress{PushedSoFar: 1, TotalToPush: 1})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Equal(t, "session s1 errored", se.Message)
	assert.Equal(t, int32(1), calls.Load())

	var remoteErr sync.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusConflict, remoteErr.RemoteStatus())
}

func TestHTTPClient_Pull(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/sync/s1/pull", r.URL.Path)
		assert.Equal(t, "200", r.URL.Query().Get("offset"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"changes":[{"recordType":"patients","recordId":"p1","isDeleted":false,"data":{"id":"p1"}}]}`))
	}))

	changes, err := c.Pull(context.Background(), "s1", 200, 100)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "p1", changes[0].RecordID)
	assert.Equal(t, sync.ChangeIncoming, changes[0].Direction)
	assert.JSONEq(t, `{"id":"p1"}`, string(changes[0].Data))
}

func TestHTTPClient_PushBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sync.PushRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Changes, 2)
		assert.Equal(t, 2, req.PushedSoFar)
		assert.Equal(t, 5, req.TotalToPush)
		w.WriteHeader(http.StatusNoContent)
	}))

	changes := []sync.Change{
		{RecordType: "patients", RecordID: "p1", Data: json.RawMessage(`{}`)},
		{RecordType: "patients", RecordID: "p2", Data: json.RawMessage(`{}`)},
	}
	err := c.Push(context.Background(), "s1", changes, sync.PushProgress{PushedSoFar: 2, TotalToPush: 5})
	assert.NoError(t, err)
}

func TestHTTPClient_CanceledContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.EndSyncSession(ctx, "s1")
	assert.ErrorIs(t, err, context.Canceled)
}
