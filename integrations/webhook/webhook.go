package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"starkit/core"
)

// Sink posts domain events to configured HTTP endpoints, typically a parent
// notification service. Delivery is synchronous and best effort: a failing
// endpoint is logged and skipped.
type Sink struct {
	client    *http.Client
	endpoints []string
	events    map[core.EventType]bool
	log       *zap.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.client = &http.Client{Timeout: d}
		}
	}
}

// WithEvents restricts delivery to the given event types.
func WithEvents(types ...core.EventType) Option {
	return func(s *Sink) {
		if len(types) == 0 {
			return
		}
		s.events = make(map[core.EventType]bool, len(types))
		for _, t := range types {
			s.events[t] = true
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Wants reports whether the sink forwards events of type t.
func (s *Sink) Wants(t core.EventType) bool {
	return s.events == nil || s.events[t]
}

// OnEvent posts the event JSON to all endpoints. It matches the event bus
// handler signature.
func (s *Sink) OnEvent(ctx context.Context, e core.Event) {
	if len(s.endpoints) == 0 || !s.Wants(e.Type) {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		s.log.Error("marshal webhook payload", zap.Error(err))
		return
	}
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, e, body); err != nil {
			s.log.Warn("webhook delivery failed",
				zap.String("endpoint", ep),
				zap.String("event", string(e.Type)),
				zap.String("child_id", string(e.ChildID)),
				zap.Error(err))
		}
	}
}

func (s *Sink) post(ctx context.Context, endpoint string, e core.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Starkit-Event", string(e.Type))
	req.Header.Set("X-Starkit-Delivery", e.ID)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
