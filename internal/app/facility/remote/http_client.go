package remote

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

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/exp/slog"

	"ehrsync/internal/config"
	"ehrsync/internal/domain/sync"
)

// StatusError ответ центрального сервера с кодом ошибки
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("central server returned status %d", e.Code)
	}
	return fmt.Sprintf("central server returned status %d: %s", e.Code, e.Message)
}

// Temporary 5xx и 429 имеет смысл повторить
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// RemoteStatus код ответа. Такие ошибки менеджер не отправляет обратно на сервер.
func (e *StatusError) RemoteStatus() int {
	return e.Code
}

// HTTPClient реализация sync.Remote поверх HTTP API центрального сервера
type HTTPClient struct {
	client    *http.Client
	cfg       config.Central
	log       *slog.Logger
	baseURL   string
	userAgent string
}

var (
	_ sync.Remote      = (*HTTPClient)(nil)
	_ sync.RemoteError = (*StatusError)(nil)
)

func NewHTTPClient(cfg config.Central, log *slog.Logger) (*HTTPClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: central.url %q", sync.ErrInvalidConfig, cfg.URL)
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &HTTPClient{
		client:    client,
		cfg:       cfg,
		log:       log.With("component", "central_client"),
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		userAgent: "ehrsync-facility/1.0",
	}, nil
}

func (h *HTTPClient) StartSyncSession(ctx context.Context) (*sync.Session, error) {
	var resp sync.StartSessionResponse
	if err := h.call(ctx, http.MethodPost, "/api/sync", nil, &resp); err != nil {
		return nil, fmt.Errorf("start sync session: %w", err)
	}
	return &sync.Session{ID: resp.SessionID, StartedAtTick: resp.Tick}, nil
}

func (h *HTTPClient) EndSyncSession(ctx context.Context, sessionID string) error {
	if err := h.call(ctx, http.MethodDelete, sessionPath(sessionID, ""), nil, nil); err != nil {
		return fmt.Errorf("end sync session: %w", err)
	}
	return nil
}

func (h *HTTPClient) MarkSessionErrored(ctx context.Context, sessionID, message string) error {
	req := sync.ErroredRequest{Message: message}
	if err := h.call(ctx, http.MethodPost, sessionPath(sessionID, "/errored"), req, nil); err != nil {
		return fmt.Errorf("mark session errored: %w", err)
	}
	return nil
}

func (h *HTTPClient) Push(ctx context.Context, sessionID string, changes []sync.Change, progress sync.PushProgress) error {
	req := sync.PushRequest{
		Changes:     changes,
		PushedSoFar: progress.PushedSoFar,
		TotalToPush: progress.TotalToPush,
	}
	if err := h.call(ctx, http.MethodPost, sessionPath(sessionID, "/push"), req, nil); err != nil {
		return fmt.Errorf("push %d changes: %w", len(changes), err)
	}
	return nil
}

func (h *HTTPClient) CompletePush(ctx context.Context, sessionID string) error {
	if err := h.call(ctx, http.MethodPost, sessionPath(sessionID, "/push/complete"), nil, nil); err != nil {
		return fmt.Errorf("complete push: %w", err)
	}
	return nil
}

func (h *HTTPClient) InitiatePull(ctx context.Context, sessionID string, since sync.Tick) (*sync.PullWindow, error) {
	var resp sync.InitiatePullResponse
	req := sync.InitiatePullRequest{Since: since}
	if err := h.call(ctx, http.MethodPost, sessionPath(sessionID, "/pull/initiate"), req, &resp); err != nil {
		return nil, fmt.Errorf("initiate pull: %w", err)
	}
	return &sync.PullWindow{TotalToPull: resp.TotalToPull, PullUntil: resp.PullUntil}, nil
}

func (h *HTTPClient) Pull(ctx context.Context, sessionID string, offset, limit int) ([]sync.Change, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var resp sync.PullResponse
	if err := h.call(ctx, http.MethodGet, sessionPath(sessionID, "/pull")+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("pull page at %d: %w", offset, err)
	}
	for i := range resp.Changes {
		resp.Changes[i].Direction = sync.ChangeIncoming
	}
	return resp.Changes, nil
}

func sessionPath(sessionID, suffix string) string {
	return "/api/sync/" + url.PathEscape(sessionID) + suffix
}

// call выполняет запрос с повторами. 4xx и ошибки кодирования не повторяются.
func (h *HTTPClient) call(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		err := h.do(ctx, method, path, payload, result)
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		h.log.Warn("central request failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	return backoff.RetryNotify(op, h.newBackOff(ctx), notify)
}

func (h *HTTPClient) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if h.cfg.BackoffInitial > 0 {
		eb.InitialInterval = h.cfg.BackoffInitial
	}
	if h.cfg.BackoffMax > 0 {
		eb.MaxInterval = h.cfg.BackoffMax
	}
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(h.cfg.MaxRetries)), ctx)
}

func (h *HTTPClient) do(ctx context.Context, method, path string, payload []byte, result any) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	h.log.Debug("sending request", "method", method, "path", path)

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &StatusError{Code: resp.StatusCode, Message: problemDetail(data)}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// problemDetail достает описание из тела ошибки huma (application/problem+json)
func problemDetail(body []byte) string {
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &problem); err != nil {
		return strings.TrimSpace(string(body))
	}
	if problem.Detail != "" {
		return problem.Detail
	}
	return problem.Title
}
