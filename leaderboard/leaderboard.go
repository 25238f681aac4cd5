package leaderboard

import (
	"context"
	"fmt"

	"starkit/core"
	"starkit/engine"
)

// Entry represents a child's position on the board.
type Entry struct {
	Child core.ChildID `json:"childId"`
	Stars int64        `json:"stars"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(child core.ChildID, stars int64)
	Remove(child core.ChildID)
	TopN(n int) []Entry
	Get(child core.ChildID) (Entry, bool)
	Rank(child core.ChildID) (int, bool)
}

// Feed returns an event handler that keeps b in step with star totals.
// Totals are absolute and stars never decrease, so the board only moves a
// child up; replays and out-of-order async delivery converge on the highest
// total seen.
func Feed(b Board) func(context.Context, core.Event) {
	return func(_ context.Context, ev core.Event) {
		switch ev.Type {
		case core.EventStarsAdded:
			raise(b, ev.ChildID, ev.Total)
		case core.EventChildRegistered:
			raise(b, ev.ChildID, 0)
		}
	}
}

// Seed loads every stored child onto b. It is meant to run once at start-up,
// before or alongside Feed.
func Seed(ctx context.Context, b Board, src engine.ChildLister) (int, error) {
	children, err := src.ListChildren(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed leaderboard: %w", err)
	}
	for _, c := range children {
		raise(b, c.ID, c.Stars)
	}
	return len(children), nil
}

func raise(b Board, child core.ChildID, stars int64) {
	if cur, ok := b.Get(child); ok && cur.Stars >= stars {
		return
	}
	b.Update(child, stars)
}
