package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"starkit/core"
	"starkit/engine"
)

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	ctx := context.Background()
	today := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.CreateChild(ctx, core.Child{ID: "alice", Name: "Alice"}); err != nil {
		t.Fatalf("create child: %v", err)
	}

	err = store.Update(ctx, "alice", func(tx engine.Tx) error {
		c := tx.Child()
		c.Stars = 50
		c.LastActivityDate = &today
		if err := tx.SaveChild(c); err != nil {
			return err
		}
		if _, err := tx.InsertAchievementIfAbsent(core.EarnedAchievement{Key: "first_lesson", EarnedAt: today}); err != nil {
			return err
		}
		return tx.AddDailyActivity(core.DailyActivity{Day: today, LessonsCompleted: 1, StarsEarned: 50})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// ensure file written
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}

	// reload
	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	child, err := reloaded.GetChild(ctx, "alice")
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if child.Stars != 50 {
		t.Fatalf("expected stars 50, got %d", child.Stars)
	}
	if child.LastActivityDate == nil || !child.LastActivityDate.Equal(today) {
		t.Fatalf("expected last activity %v, got %v", today, child.LastActivityDate)
	}
	earned, _ := reloaded.ListEarnedAchievements(ctx, "alice")
	if len(earned) != 1 || earned[0].Key != "first_lesson" {
		t.Fatalf("expected first_lesson, got %+v", earned)
	}
	rows, _ := reloaded.ListDailyActivity(ctx, "alice", today, today)
	if len(rows) != 1 || rows[0].StarsEarned != 50 {
		t.Fatalf("expected one activity row with 50 stars, got %+v", rows)
	}
}

func TestDuplicateAndMissingChild(t *testing.T) {
	ctx := context.Background()
	store, err := New(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CreateChild(ctx, core.Child{ID: "bob", Name: "Bob"}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateChild(ctx, core.Child{ID: "bob", Name: "Bob"}); !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatal("expected duplicate error")
	}
	if _, err := store.GetChild(ctx, "nobody"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateRestoresStateWhenWriteFails(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CreateChild(ctx, core.Child{ID: "carl", Name: "Carl"}); err != nil {
		t.Fatal(err)
	}
	// a directory where the temp file should go makes the write fail
	if err := os.Mkdir(path+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}

	err = store.Update(ctx, "carl", func(tx engine.Tx) error {
		c := tx.Child()
		c.Stars = 10
		_, _ = tx.InsertAchievementIfAbsent(core.EarnedAchievement{Key: "first_lesson"})
		return tx.SaveChild(c)
	})
	if err == nil {
		t.Fatal("expected write error")
	}
	child, _ := store.GetChild(ctx, "carl")
	if child.Stars != 0 {
		t.Fatalf("expected stars restored to 0, got %d", child.Stars)
	}
	if earned, _ := store.ListEarnedAchievements(ctx, "carl"); len(earned) != 0 {
		t.Fatalf("expected no achievements, got %+v", earned)
	}
}

func TestListChildrenAfterReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []core.ChildID{"zoe", "ben"} {
		if err := s.CreateChild(ctx, core.Child{ID: id, Name: string(id)}); err != nil {
			t.Fatal(err)
		}
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	kids, err := reopened.ListChildren(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(kids) != 2 || kids[0].ID != "ben" || kids[1].ID != "zoe" {
		t.Fatalf("unexpected children: %+v", kids)
	}
}
