package core

import (
	"math"
	"testing"
)

func seedSproutBloom(t *testing.T) LevelTable {
	t.Helper()
	table, err := NewLevelTable(
		Level{MinStars: 0, Name: "Seed", Emoji: "🌱"},
		Level{MinStars: 100, Name: "Sprout", Emoji: "🌿"},
		Level{MinStars: 500, Name: "Bloom", Emoji: "🌸"},
	)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	return table
}

func TestForStars(t *testing.T) {
	table := seedSproutBloom(t)
	cases := []struct {
		stars int64
		want  string
	}{
		{0, "Seed"},
		{99, "Seed"},
		{100, "Sprout"},
		{499, "Sprout"},
		{500, "Bloom"},
		{1 << 40, "Bloom"},
		{-5, "Seed"},
	}
	for _, tc := range cases {
		if got := table.ForStars(tc.stars).Name; got != tc.want {
			t.Errorf("ForStars(%d) = %s, want %s", tc.stars, got, tc.want)
		}
	}
}

func TestForStarsPicksHighestQualifyingThreshold(t *testing.T) {
	table := seedSproutBloom(t)
	for stars := int64(0); stars <= 700; stars++ {
		lvl := table.ForStars(stars)
		if lvl.MinStars > stars {
			t.Fatalf("stars=%d level %s threshold %d above stars", stars, lvl.Name, lvl.MinStars)
		}
		for _, other := range table {
			if other.MinStars > lvl.MinStars && other.MinStars <= stars {
				t.Fatalf("stars=%d picked %s but %s also qualifies", stars, lvl.Name, other.Name)
			}
		}
	}
}

func TestNext(t *testing.T) {
	table := seedSproutBloom(t)
	next, ok := table.Next(1)
	if !ok || next.Name != "Sprout" {
		t.Fatalf("next of 1: %+v %v", next, ok)
	}
	if _, ok := table.Next(3); ok {
		t.Fatal("top tier should have no next level")
	}
}

func TestProgress(t *testing.T) {
	table := seedSproutBloom(t)
	pct, toNext := table.Progress(0)
	if pct != 0 || toNext != 100 {
		t.Fatalf("progress(0) = %d %d", pct, toNext)
	}
	pct, toNext = table.Progress(300)
	if pct != 50 || toNext != 200 {
		t.Fatalf("progress(300) = %d %d", pct, toNext)
	}
	pct, toNext = table.Progress(900)
	if pct != 100 || toNext != 0 {
		t.Fatalf("progress at max = %d %d", pct, toNext)
	}
}

func TestProgressNearMaxStars(t *testing.T) {
	table, err := NewLevelTable(
		Level{MinStars: 0, Name: "Seed"},
		Level{MinStars: math.MaxInt64 - 10, Name: "Legend"},
	)
	if err != nil {
		t.Fatal(err)
	}
	pct, toNext := table.Progress(math.MaxInt64 / 2)
	if pct != 49 && pct != 50 {
		t.Fatalf("progress at half = %d", pct)
	}
	if toNext != math.MaxInt64-10-math.MaxInt64/2 {
		t.Fatalf("toNext = %d", toNext)
	}
	if pct, _ := table.Progress(math.MaxInt64 - 11); pct != 99 {
		t.Fatalf("progress just below next = %d", pct)
	}
}

func TestLevelTableValidate(t *testing.T) {
	if _, err := NewLevelTable(); err == nil {
		t.Fatal("empty table should fail")
	}
	if _, err := NewLevelTable(Level{MinStars: 10, Name: "A"}); err == nil {
		t.Fatal("table not starting at 0 should fail")
	}
	if _, err := NewLevelTable(Level{Name: "A"}, Level{MinStars: 0, Name: "B"}); err == nil {
		t.Fatal("non-increasing thresholds should fail")
	}
	if _, err := NewLevelTable(Level{Name: "A"}, Level{MinStars: 5}); err == nil {
		t.Fatal("unnamed level should fail")
	}
}
