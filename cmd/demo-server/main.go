package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"starkit/analytics"
	"starkit/api/httpapi"
	"starkit/core"
	"starkit/engine"
	"starkit/gamify"
	"starkit/leaderboard"
	"starkit/realtime"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	// readable console logging for local play
	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	hub := realtime.NewHub()
	board := leaderboard.NewSkipList()
	metrics := analytics.NewMetrics(time.UTC)
	ledger := gamify.New(
		gamify.WithLogger(log),
		gamify.WithRealtime(hub),
		gamify.WithLeaderboard(board),
		gamify.WithAnalytics(metrics),
	)
	defer ledger.Close()

	if err := seed(context.Background(), ledger); err != nil {
		log.Error("seeding demo data", zap.Error(err))
		os.Exit(1)
	}

	mux := httpapi.NewMux(ledger, hub, httpapi.Options{
		AllowCORSOrigin: "*",
		Leaderboard:     board,
		Analytics:       metrics,
		Logger:          log,
	})

	log.Info("starting demo server", zap.String("address", *addr))
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Error("demo server crashed", zap.Error(err))
		os.Exit(1)
	}
}

// seed registers a couple of children with some history so the
// progress, leaderboard and analytics endpoints have data to show.
func seed(ctx context.Context, ledger *engine.Ledger) error {
	kids := []engine.ChildInput{
		{ID: "mia", Name: "Mia", Avatar: "fox"},
		{ID: "leo", Name: "Leo", Avatar: "owl"},
	}
	for _, k := range kids {
		if _, err := ledger.RegisterChild(ctx, k); err != nil {
			return err
		}
	}
	lesson := core.LessonInput{WordsLearned: 4, CorrectAnswers: 5, TotalAnswers: 5, IsPerfect: true}
	if _, err := ledger.RecordLessonCompletion(ctx, "mia", lesson); err != nil {
		return err
	}
	for attempt := 1; attempt <= 2; attempt++ {
		if _, err := ledger.RecordAnswer(ctx, "leo", attempt == 2, attempt); err != nil {
			return err
		}
	}
	_, err := ledger.AddStars(ctx, "leo", 10, "welcome bonus")
	return err
}
