package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	wsadapter "starkit/adapters/websocket"
	"starkit/analytics"
	"starkit/core"
	"starkit/engine"
	"starkit/leaderboard"
	"starkit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitIdle is how long an unused client bucket is kept. Defaults to 10 minutes.
	RateLimitIdle time.Duration

	Leaderboard leaderboard.Board
	Analytics   *analytics.Metrics
	Logger      *zap.Logger
}

const maxBodyBytes = 1 << 20

// NewMux builds an http.Handler exposing the star ledger REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/children
//   - GET  {prefix}/children/{id}[/progress]
//   - POST {prefix}/children/{id}/stars
//   - POST {prefix}/children/{id}/answers
//   - POST {prefix}/children/{id}/lessons
//   - GET  {prefix}/children/{id}/achievements
//   - GET  {prefix}/children/{id}/activity?from=YYYY-MM-DD&to=YYYY-MM-DD
//   - GET  {prefix}/catalog
//   - GET  {prefix}/leaderboard?n=10
//   - GET  {prefix}/analytics/daily?day=YYYY-MM-DD
//   - GET  {prefix}/analytics/summary?from=YYYY-MM-DD&to=YYYY-MM-DD
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws
func NewMux(ledger *engine.Ledger, hub *realtime.Hub, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	a := &api{ledger: ledger, opts: opts, log: opts.Logger.With(zap.String("component", "httpapi"))}
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route("GET /healthz", a.health)
	route("GET /catalog", a.catalog)
	route("POST /children", a.registerChild)
	route("GET /children/{id}", a.progress)
	route("GET /children/{id}/progress", a.progress)
	route("POST /children/{id}/stars", a.addStars)
	route("POST /children/{id}/answers", a.recordAnswer)
	route("POST /children/{id}/lessons", a.recordLesson)
	route("GET /children/{id}/achievements", a.achievements)
	route("GET /children/{id}/activity", a.activity)
	if opts.Leaderboard != nil {
		route("GET /leaderboard", a.leaderboard)
	}
	if opts.Analytics != nil {
		route("GET /analytics/daily", a.analyticsDaily)
		route("GET /analytics/summary", a.analyticsSummary)
	}

	// WebSocket events
	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})

	var handler http.Handler = mux
	keys := keySet(opts.APIKeys)
	if len(keys) > 0 {
		handler = withAPIKeyAuth(handler, keys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, keys, opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitIdle)
	}
	// outermost so preflight requests are answered without credentials
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	return handler
}

type api struct {
	ledger *engine.Ledger
	opts   Options
	log    *zap.Logger
}

// health verifies storage answers.
func (a *api) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}
	if err := a.ledger.Ping(r.Context()); err != nil {
		a.log.Warn("health check failed", zap.Error(err))
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
		writeJSONStatus(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, status)
}

func (a *api) catalog(w http.ResponseWriter, r *http.Request) {
	c := a.ledger.Catalog()
	levels := make([]levelJSON, 0, len(c.Levels))
	for _, l := range c.Levels {
		levels = append(levels, toLevelJSON(l))
	}
	achievements := make([]achievementJSON, 0, len(c.Achievements))
	for _, d := range c.Achievements {
		achievements = append(achievements, toAchievementJSON(d))
	}
	writeJSON(w, map[string]any{"levels": levels, "achievements": achievements})
}

type registerRequest struct {
	ID     core.ChildID `json:"id"`
	Name   string       `json:"name"`
	Avatar string       `json:"avatar"`
}

func (a *api) registerChild(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	child, err := a.ledger.RegisterChild(r.Context(), engine.ChildInput{ID: req.ID, Name: req.Name, Avatar: req.Avatar})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	p, err := a.ledger.GetChildProgress(r.Context(), child.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, toProgressJSON(p))
}

func (a *api) progress(w http.ResponseWriter, r *http.Request) {
	p, err := a.ledger.GetChildProgress(r.Context(), core.ChildID(r.PathValue("id")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, toProgressJSON(p))
}

type addStarsRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (a *api) addStars(w http.ResponseWriter, r *http.Request) {
	var req addStarsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.ledger.AddStars(r.Context(), core.ChildID(r.PathValue("id")), req.Amount, req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, addStarsResponse{NewTotal: res.NewTotal, LeveledUp: res.LeveledUp, NewLevel: optLevel(res.NewLevel)})
}

type answerRequest struct {
	IsCorrect     *bool `json:"isCorrect"`
	AttemptNumber int   `json:"attemptNumber"`
}

func (a *api) recordAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.IsCorrect == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "isCorrect is required", map[string]string{"field": "isCorrect"})
		return
	}
	res, err := a.ledger.RecordAnswer(r.Context(), core.ChildID(r.PathValue("id")), *req.IsCorrect, req.AttemptNumber)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := answerResponse{
		StarsEarned:     res.StarsEarned,
		NewTotal:        res.NewTotal,
		NewAchievements: toAchievementList(res.NewAchievements),
	}
	if res.LeveledUp && res.NewLevel != nil {
		out.LevelUp = &levelUpJSON{NewLevel: toLevelJSON(*res.NewLevel)}
	}
	writeJSON(w, out)
}

func (a *api) recordLesson(w http.ResponseWriter, r *http.Request) {
	var req core.LessonInput
	if !decode(w, r, &req) {
		return
	}
	res, err := a.ledger.RecordLessonCompletion(r.Context(), core.ChildID(r.PathValue("id")), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := lessonResponse{
		StarsEarned:     res.StarsEarned,
		NewTotal:        res.NewTotal,
		Streak:          res.Streak,
		NewAchievements: toAchievementList(res.NewAchievements),
	}
	if res.LevelUp != nil {
		out.LevelUp = &levelUpJSON{NewLevel: toLevelJSON(*res.LevelUp)}
	}
	writeJSON(w, out)
}

func (a *api) achievements(w http.ResponseWriter, r *http.Request) {
	badges, err := a.ledger.ListAchievements(r.Context(), core.ChildID(r.PathValue("id")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]badgeJSON, 0, len(badges))
	for _, b := range badges {
		out = append(out, badgeJSON{achievementJSON: toAchievementJSON(b.AchievementDef), Earned: b.Earned, EarnedAt: b.EarnedAt})
	}
	writeJSON(w, map[string]any{"achievements": out})
}

func (a *api) activity(w http.ResponseWriter, r *http.Request) {
	to := a.ledger.Today()
	from := to.AddDate(0, 0, -6)
	var err error
	if s := r.URL.Query().Get("from"); s != "" {
		if from, err = a.ledger.ParseDay(s); err != nil {
			a.fail(w, r, core.NewValidationError("from", "must be YYYY-MM-DD"))
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if to, err = a.ledger.ParseDay(s); err != nil {
			a.fail(w, r, core.NewValidationError("to", "must be YYYY-MM-DD"))
			return
		}
	}
	rows, err := a.ledger.DailyActivity(r.Context(), core.ChildID(r.PathValue("id")), from, to)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]activityJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, activityJSON{
			Day:              row.Day.Format("2006-01-02"),
			LessonsCompleted: row.LessonsCompleted,
			StarsEarned:      row.StarsEarned,
			WordsLearned:     row.WordsLearned,
			AnswersRecorded:  row.AnswersRecorded,
		})
	}
	writeJSON(w, map[string]any{"from": from.Format("2006-01-02"), "to": to.Format("2006-01-02"), "days": out})
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	n := 10
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || v > 100 {
			writeError(w, http.StatusBadRequest, "invalid_input", "n must be between 1 and 100", map[string]string{"field": "n"})
			return
		}
		n = v
	}
	writeJSON(w, map[string]any{"entries": a.opts.Leaderboard.TopN(n)})
}

func (a *api) analyticsDaily(w http.ResponseWriter, r *http.Request) {
	day := a.ledger.Today()
	if s := r.URL.Query().Get("day"); s != "" {
		d, err := a.ledger.ParseDay(s)
		if err != nil {
			a.fail(w, r, core.NewValidationError("day", "must be YYYY-MM-DD"))
			return
		}
		day = d
	}
	writeJSON(w, a.opts.Analytics.Daily(day.Format("2006-01-02")))
}

func (a *api) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	to := a.ledger.Today()
	from := to.AddDate(0, 0, -6)
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		if s := r.URL.Query().Get(p.name); s != "" {
			d, err := a.ledger.ParseDay(s)
			if err != nil {
				a.fail(w, r, core.NewValidationError(p.name, "must be YYYY-MM-DD"))
				return
			}
			*p.dst = d
		}
	}
	if to.Before(from) {
		a.fail(w, r, core.NewValidationError("to", "must not be before from"))
		return
	}
	writeJSON(w, a.opts.Analytics.Summary(from.Format("2006-01-02"), to.Format("2006-01-02")))
}

// fail maps domain errors onto HTTP status codes.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), map[string]string{"field": verr.Field, "reason": verr.Reason})
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, core.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", err.Error(), nil)
	case errors.Is(err, core.ErrPersistence):
		a.log.Error("persistence failure", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "persistence_failure", "storage is unavailable, retry later", nil)
	default:
		a.log.Error("unexpected error", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return false
	}
	return true
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}

func withCORS(next http.Handler, origin string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		MaxAge:         600,
	}).Handler(next)
}

func keySet(apiKeys []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			allowed[k] = struct{}{}
		}
	}
	return allowed
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, allowed map[string]struct{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a token-bucket limiter per client key.
func withRateLimit(next http.Handler, allowed map[string]struct{}, rpm, burst int, idle time.Duration) http.Handler {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	limiter := newRateLimiter(rpm, burst, idle)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(clientKey(r, allowed)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(limiter.every.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// clientKey buckets by API key when the key is a configured one and by remote
// IP otherwise, so made-up keys cannot mint fresh buckets.
func clientKey(r *http.Request, allowed map[string]struct{}) string {
	if key := extractAPIKey(r); key != "" {
		if _, ok := allowed[key]; ok {
			return "key:" + key
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

type rateLimiter struct {
	every time.Duration
	burst int
	idle  time.Duration

	mu      sync.Mutex
	clients map[string]*client
	swept   time.Time
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

func newRateLimiter(rpm, burst int, idle time.Duration) *rateLimiter {
	return &rateLimiter{
		every:   time.Minute / time.Duration(rpm),
		burst:   burst,
		idle:    idle,
		clients: make(map[string]*client),
		swept:   time.Now(),
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.clients[key] = c
	}
	c.seen = now
	if now.Sub(l.swept) > l.idle {
		for k, v := range l.clients {
			if now.Sub(v.seen) > l.idle {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}
	l.mu.Unlock()
	return c.lim.AllowN(now, 1)
}
