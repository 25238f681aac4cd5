package engine

import (
	"context"
	"time"

	"starkit/core"
)

// Storage abstracts persistence for child gamification records.
//
// Update is the only write path for an existing child. Implementations must hold
// the child exclusively for the duration of fn, so concurrent updates of one child
// run one after another, and must commit every write staged on the Tx atomically
// and only when fn returns nil. A missing child is reported as core.ErrNotFound
// before fn is called.
type Storage interface {
	CreateChild(ctx context.Context, child core.Child) error
	GetChild(ctx context.Context, id core.ChildID) (core.Child, error)
	ListEarnedAchievements(ctx context.Context, id core.ChildID) ([]core.EarnedAchievement, error)
	ListDailyActivity(ctx context.Context, id core.ChildID, from, to time.Time) ([]core.DailyActivity, error)
	Update(ctx context.Context, id core.ChildID, fn func(tx Tx) error) error
}

// Tx is one child's view inside Storage.Update.
type Tx interface {
	// Child returns the record as loaded when the unit of work began.
	Child() core.Child
	EarnedKeys() (map[string]struct{}, error)
	SaveChild(child core.Child) error
	// InsertAchievementIfAbsent is idempotent per (child, key); it reports whether a row was added.
	InsertAchievementIfAbsent(a core.EarnedAchievement) (bool, error)
	// AddDailyActivity adds the counters of a to the row for (a.ChildID, a.Day).
	AddDailyActivity(a core.DailyActivity) error
}

// ChildLister is implemented by storages that can enumerate every child, which
// lets in-memory read models such as the leaderboard be rebuilt after a restart.
type ChildLister interface {
	ListChildren(ctx context.Context) ([]core.Child, error)
}
