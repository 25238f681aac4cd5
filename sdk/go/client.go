package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the starkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// RegisterChild creates a child profile and returns its initial progress.
func (c *Client) RegisterChild(ctx context.Context, childID, name, avatar string) (Progress, error) {
	var p Progress
	body := map[string]string{"id": childID, "name": name, "avatar": avatar}
	err := c.do(ctx, http.MethodPost, "/children", body, &p)
	return p, err
}

// AddStars grants stars outside the answer and lesson flows.
func (c *Client) AddStars(ctx context.Context, childID string, amount int64, reason string) (AddStarsResult, error) {
	var res AddStarsResult
	path, err := childPath(childID, "stars")
	if err != nil {
		return res, err
	}
	err = c.do(ctx, http.MethodPost, path, map[string]any{"amount": amount, "reason": reason}, &res)
	return res, err
}

// RecordAnswer reports one answer attempt.
func (c *Client) RecordAnswer(ctx context.Context, childID string, isCorrect bool, attempt int) (AnswerResult, error) {
	var res AnswerResult
	path, err := childPath(childID, "answers")
	if err != nil {
		return res, err
	}
	err = c.do(ctx, http.MethodPost, path, map[string]any{"isCorrect": isCorrect, "attemptNumber": attempt}, &res)
	return res, err
}

// RecordLesson reports a completed lesson.
func (c *Client) RecordLesson(ctx context.Context, childID string, lesson Lesson) (LessonResult, error) {
	var res LessonResult
	path, err := childPath(childID, "lessons")
	if err != nil {
		return res, err
	}
	err = c.do(ctx, http.MethodPost, path, lesson, &res)
	return res, err
}

// GetProgress fetches the child's home-screen summary.
func (c *Client) GetProgress(ctx context.Context, childID string) (Progress, error) {
	var p Progress
	path, err := childPath(childID, "progress")
	if err != nil {
		return p, err
	}
	err = c.do(ctx, http.MethodGet, path, nil, &p)
	return p, err
}

// ListAchievements returns the badge wall.
func (c *Client) ListAchievements(ctx context.Context, childID string) ([]Badge, error) {
	var body struct {
		Achievements []Badge `json:"achievements"`
	}
	path, err := childPath(childID, "achievements")
	if err != nil {
		return nil, err
	}
	err = c.do(ctx, http.MethodGet, path, nil, &body)
	return body.Achievements, err
}

// DailyActivity lists per-day totals between from and to (YYYY-MM-DD,
// inclusive). Empty bounds use the server default of the last seven days.
func (c *Client) DailyActivity(ctx context.Context, childID, from, to string) ([]ActivityDay, error) {
	var body struct {
		Days []ActivityDay `json:"days"`
	}
	path, err := childPath(childID, "activity")
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err = c.do(ctx, http.MethodGet, path, nil, &body)
	return body.Days, err
}

// Leaderboard returns the top n children by stars.
func (c *Client) Leaderboard(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	var body struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/leaderboard?n=%d", n), nil, &body)
	return body.Entries, err
}

func childPath(childID, action string) (string, error) {
	if strings.TrimSpace(childID) == "" {
		return "", ErrEmptyChildID
	}
	return "/children/" + url.PathEscape(childID) + "/" + action, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits events. A
// non-empty childID restricts the stream to that child; types narrows it to
// the given event types. The returned channel closes when ctx is done or the
// connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, childID string, types ...string) (<-chan Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if childID != "" {
		q.Set("child", childID)
	}
	if len(types) > 0 {
		q.Set("types", strings.Join(types, ","))
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), c.headers)
	if err != nil {
		return nil, err
	}
	// unblock ReadJSON when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		defer stop()
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				var evt Event
				if err := conn.ReadJSON(&evt); err != nil {
					return
				}
				select {
				case out <- evt:
				default:
					// drop if consumer is slow
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
