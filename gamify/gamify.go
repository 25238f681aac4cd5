// Package gamify assembles a ready-to-use star ledger with its event
// consumers attached.
package gamify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"starkit/adapters/memory"
	"starkit/analytics"
	"starkit/catalog"
	"starkit/core"
	"starkit/engine"
	"starkit/leaderboard"
	"starkit/realtime"
)

// Option configures the ledger builder.
type Option func(*config)

type config struct {
	storage  engine.Storage
	catalog  *core.Catalog
	mode     engine.DispatchMode
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger
	handlers []func(context.Context, core.Event)
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithCatalog replaces the built-in levels, achievements and rewards.
func WithCatalog(cat core.Catalog) Option { return func(c *config) { c.catalog = &cat } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithLocation sets the calendar that streak days are counted in.
func WithLocation(loc *time.Location) Option { return func(c *config) { c.loc = loc } }

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// WithLogger sets the ledger logger.
func WithLogger(l *zap.Logger) Option { return func(c *config) { c.log = l } }

// WithRealtime wires a realtime hub to receive all ledger events.
func WithRealtime(h *realtime.Hub) Option {
	if h == nil {
		return func(*config) {}
	}
	return WithHandler(h.Broadcast)
}

// WithLeaderboard keeps b in step with star totals.
func WithLeaderboard(b leaderboard.Board) Option { return WithHandler(leaderboard.Feed(b)) }

// WithAnalytics forwards events to an analytics hook.
func WithAnalytics(h analytics.Hook) Option { return WithHandler(h.OnEvent) }

// WithHandler subscribes an arbitrary consumer, such as a webhook sink, to every event.
func WithHandler(fn func(context.Context, core.Event)) Option {
	return func(c *config) {
		if fn != nil {
			c.handlers = append(c.handlers, fn)
		}
	}
}

// New builds a configured Ledger. If not provided, defaults are used:
//   - storage: in-memory
//   - catalog: built-in
//   - dispatch: async
//   - location: UTC
func New(opts ...Option) *engine.Ledger {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = memory.New()
	}
	cat := catalog.Default()
	if cfg.catalog != nil {
		cat = *cfg.catalog
	}
	ledgerOpts := []engine.LedgerOption{engine.WithLocation(cfg.loc), engine.WithLogger(cfg.log)}
	if cfg.now != nil {
		ledgerOpts = append(ledgerOpts, engine.WithClock(cfg.now))
	}
	ledger := engine.NewLedger(cfg.storage, engine.NewEventBus(cfg.mode), cat, ledgerOpts...)
	for _, h := range cfg.handlers {
		ledger.SubscribeAll(h)
	}
	return ledger
}
