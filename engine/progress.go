package engine

import (
	"context"
	"sort"
	"time"

	"starkit/core"
)

// Progress is the read model shown on a child's home screen.
type Progress struct {
	ChildID           core.ChildID `json:"childId"`
	Name              string       `json:"name"`
	Avatar            string       `json:"avatar,omitempty"`
	Stars             int64        `json:"stars"`
	Level             core.Level   `json:"level"`
	NextLevel         *core.Level  `json:"nextLevel,omitempty"`
	LevelProgress     int          `json:"levelProgress"`
	StarsToNextLevel  int64        `json:"starsToNextLevel"`
	CurrentStreak     int          `json:"currentStreak"`
	LongestStreak     int          `json:"longestStreak"`
	LastActivityDate  *time.Time   `json:"lastActivityDate,omitempty"`
	TotalLessons      int          `json:"totalLessons"`
	TotalWordsLearned int          `json:"totalWordsLearned"`
	PerfectLessons    int          `json:"perfectLessons"`
	TotalAnswers      int          `json:"totalAnswers"`
	CorrectAnswers    int          `json:"correctAnswers"`
	Achievements      []string     `json:"achievements"`
}

// Badge is one catalogue entry annotated with the child's unlock state.
type Badge struct {
	core.AchievementDef
	Earned   bool       `json:"earned"`
	EarnedAt *time.Time `json:"earnedAt,omitempty"`
}

// GetChildProgress assembles the read model. The level is resolved from stars,
// never from the cached level on the record.
func (l *Ledger) GetChildProgress(ctx context.Context, childID core.ChildID) (Progress, error) {
	id, err := core.NormalizeChildID(childID)
	if err != nil {
		return Progress{}, err
	}
	child, err := l.storage.GetChild(ctx, id)
	if err != nil {
		return Progress{}, core.Persistence("get child", err)
	}
	earned, err := l.storage.ListEarnedAchievements(ctx, id)
	if err != nil {
		return Progress{}, core.Persistence("list achievements", err)
	}
	sortEarned(earned)

	level := l.catalog.Levels.ForStars(child.Stars)
	pct, toNext := l.catalog.Levels.Progress(child.Stars)
	p := Progress{
		ChildID:           child.ID,
		Name:              child.Name,
		Avatar:            child.Avatar,
		Stars:             child.Stars,
		Level:             level,
		LevelProgress:     pct,
		StarsToNextLevel:  toNext,
		CurrentStreak:     child.CurrentStreak,
		LongestStreak:     child.LongestStreak,
		LastActivityDate:  child.LastActivityDate,
		TotalLessons:      child.TotalLessons,
		TotalWordsLearned: child.TotalWordsLearned,
		PerfectLessons:    child.PerfectLessons,
		TotalAnswers:      child.TotalAnswers,
		CorrectAnswers:    child.CorrectAnswers,
		Achievements:      make([]string, 0, len(earned)),
	}
	if next, ok := l.catalog.Levels.Next(level.Number); ok {
		p.NextLevel = &next
	}
	for _, e := range earned {
		p.Achievements = append(p.Achievements, e.Key)
	}
	return p, nil
}

// ListAchievements returns the full catalogue in order, marking the ones the child
// has earned. Earned keys no longer in the catalogue are skipped.
func (l *Ledger) ListAchievements(ctx context.Context, childID core.ChildID) ([]Badge, error) {
	id, err := core.NormalizeChildID(childID)
	if err != nil {
		return nil, err
	}
	if _, err := l.storage.GetChild(ctx, id); err != nil {
		return nil, core.Persistence("get child", err)
	}
	earned, err := l.storage.ListEarnedAchievements(ctx, id)
	if err != nil {
		return nil, core.Persistence("list achievements", err)
	}
	at := make(map[string]time.Time, len(earned))
	for _, e := range earned {
		at[e.Key] = e.EarnedAt
	}
	out := make([]Badge, 0, len(l.catalog.Achievements))
	for _, def := range l.catalog.Achievements {
		b := Badge{AchievementDef: def}
		if t, ok := at[def.Key]; ok {
			t := t
			b.Earned, b.EarnedAt = true, &t
		}
		out = append(out, b)
	}
	return out, nil
}

// DailyActivity lists the per-day aggregates between from and to inclusive,
// oldest first. Days without activity are absent.
func (l *Ledger) DailyActivity(ctx context.Context, childID core.ChildID, from, to time.Time) ([]core.DailyActivity, error) {
	id, err := core.NormalizeChildID(childID)
	if err != nil {
		return nil, err
	}
	from, to = l.today(from), l.today(to)
	if to.Before(from) {
		return nil, core.NewValidationError("to", "must not be before from")
	}
	if _, err := l.storage.GetChild(ctx, id); err != nil {
		return nil, core.Persistence("get child", err)
	}
	rows, err := l.storage.ListDailyActivity(ctx, id, from, to)
	if err != nil {
		return nil, core.Persistence("list activity", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Day.Before(rows[j].Day) })
	return rows, nil
}

// Today returns the current calendar day in the ledger's location.
func (l *Ledger) Today() time.Time { return l.today(l.now()) }

// ParseDay reads a YYYY-MM-DD date as a day in the ledger's location.
func (l *Ledger) ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, l.loc)
	if err != nil {
		return time.Time{}, core.NewValidationError("date", "must be YYYY-MM-DD")
	}
	return l.today(t), nil
}

// Ping checks that storage answers. A missing probe record is a healthy answer.
func (l *Ledger) Ping(ctx context.Context) error {
	_, err := l.storage.GetChild(ctx, core.ChildID("healthcheck-probe"))
	if err == nil || core.IsNotFound(err) {
		return nil
	}
	return core.Persistence("ping", err)
}

func sortEarned(earned []core.EarnedAchievement) {
	sort.SliceStable(earned, func(i, j int) bool {
		if earned[i].EarnedAt.Equal(earned[j].EarnedAt) {
			return false
		}
		return earned[i].EarnedAt.Before(earned[j].EarnedAt)
	})
}
