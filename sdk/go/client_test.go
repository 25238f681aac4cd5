package sdk

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	mem "starkit/adapters/memory"
	"starkit/api/httpapi"
	"starkit/catalog"
	"starkit/engine"
	"starkit/realtime"
)

// newTestServer runs the real API over an in-memory ledger.
func newTestServer(t *testing.T, opts httpapi.Options) (*httptest.Server, *realtime.Hub) {
	t.Helper()
	ledger := engine.NewLedger(mem.New(), engine.NewEventBus(engine.DispatchSync), catalog.Default())
	hub := realtime.NewHub()
	ledger.SubscribeAll(hub.Broadcast)
	opts.PathPrefix = "/api"
	srv := httptest.NewServer(httpapi.NewMux(ledger, hub, opts))
	t.Cleanup(func() {
		srv.Close()
		ledger.Close()
	})
	return srv, hub
}

func TestClient_LedgerRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{APIKeys: []string{"k1"}})

	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	p, err := client.RegisterChild(ctx, "alice", "Alice", "fox")
	if err != nil || p.ChildID != "alice" || p.Level.Number != 1 {
		t.Fatalf("register: %+v err=%v", p, err)
	}

	ans, err := client.RecordAnswer(ctx, "alice", true, 1)
	if err != nil || ans.StarsEarned != 3 {
		t.Fatalf("answer: %+v err=%v", ans, err)
	}

	lesson, err := client.RecordLesson(ctx, "alice", Lesson{WordsLearned: 4, CorrectAnswers: 5, TotalAnswers: 5, IsPerfect: true})
	if err != nil {
		t.Fatalf("lesson: %v", err)
	}
	if lesson.StarsEarned != 24 || lesson.NewTotal != 27 || lesson.Streak.Current != 1 || len(lesson.NewAchievements) == 0 {
		t.Fatalf("unexpected lesson result: %+v", lesson)
	}

	added, err := client.AddStars(ctx, "alice", 30, "weekly bonus")
	if err != nil || !added.LeveledUp || added.NewLevel == nil || added.NewLevel.Name != "Sprout" {
		t.Fatalf("add stars: %+v err=%v", added, err)
	}

	p, err = client.GetProgress(ctx, "alice")
	if err != nil || p.Stars != 57 || p.TotalLessons != 1 {
		t.Fatalf("progress: %+v err=%v", p, err)
	}

	badges, err := client.ListAchievements(ctx, "alice")
	if err != nil || len(badges) == 0 || !badges[0].Earned {
		t.Fatalf("badges: %+v err=%v", badges, err)
	}

	days, err := client.DailyActivity(ctx, "alice", "", "")
	if err != nil || len(days) != 1 || days[0].StarsEarned != 57 {
		t.Fatalf("activity: %+v err=%v", days, err)
	}

	health, err := client.Health(ctx)
	if err != nil || health.Status != "healthy" {
		t.Fatalf("health: %+v err=%v", health, err)
	}
}

func TestClient_Errors(t *testing.T) {
	srv, _ := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	_, err = client.GetProgress(ctx, "ghost")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 404 || apiErr.Code != "not_found" {
		t.Fatalf("expected not_found APIError, got %v", err)
	}
	if apiErr.Temporary() {
		t.Fatal("404 is not temporary")
	}

	if _, err := client.AddStars(ctx, "", 5, ""); !errors.Is(err, ErrEmptyChildID) {
		t.Fatalf("expected ErrEmptyChildID, got %v", err)
	}
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv, hub := newTestServer(t, httpapi.Options{})

	client, err := NewClient(srv.URL + "/api")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.RegisterChild(ctx, "alice", "Alice", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	events, err := client.SubscribeEvents(ctx, "alice", "stars_added")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for hub.Subscribers() == 0 {
		if ctx.Err() != nil {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := client.AddStars(ctx, "alice", 10, "bonus"); err != nil {
		t.Fatalf("add stars: %v", err)
	}

	select {
	case evt := <-events:
		if evt.Type != "stars_added" || evt.ChildID != "alice" || evt.Total != 10 {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestDeriveWSURL(t *testing.T) {
	if got := deriveWSURL("https://kids.example.com/api/"); got != "wss://kids.example.com/api/ws" {
		t.Fatalf("unexpected ws url: %s", got)
	}
}
