package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates domain events.
type EventType string

const (
	EventStarsAdded          EventType = "stars_added"
	EventLevelUp             EventType = "level_up"
	EventStreakUpdated       EventType = "streak_updated"
	EventStreakBroken        EventType = "streak_broken"
	EventAchievementUnlocked EventType = "achievement_unlocked"
	EventLessonCompleted     EventType = "lesson_completed"
	EventAnswerRecorded      EventType = "answer_recorded"
	EventChildRegistered     EventType = "child_registered"
)

// AllEventTypes lists every event type in publication order.
var AllEventTypes = []EventType{
	EventChildRegistered,
	EventAnswerRecorded,
	EventLessonCompleted,
	EventStarsAdded,
	EventStreakUpdated,
	EventStreakBroken,
	EventLevelUp,
	EventAchievementUnlocked,
}

// Event represents an immutable domain event, published after a successful commit.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Time        time.Time      `json:"time"`
	ChildID     ChildID        `json:"child_id"`
	Delta       int64          `json:"delta,omitempty"`
	Total       int64          `json:"total,omitempty"`
	Level       int            `json:"level,omitempty"`
	LevelName   string         `json:"level_name,omitempty"`
	Achievement string         `json:"achievement,omitempty"`
	Streak      int            `json:"streak,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func newEvent(typ EventType, child ChildID, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: typ, Time: at.UTC(), ChildID: child}
}

func NewStarsAdded(child ChildID, delta, total int64, reason string, at time.Time) Event {
	ev := newEvent(EventStarsAdded, child, at)
	ev.Delta, ev.Total, ev.Reason = delta, total, reason
	return ev
}

func NewLevelUp(child ChildID, level Level, at time.Time) Event {
	ev := newEvent(EventLevelUp, child, at)
	ev.Level, ev.LevelName = level.Number, level.Name
	return ev
}

func NewStreakEvent(child ChildID, res StreakResult, at time.Time) Event {
	typ := EventStreakUpdated
	if res.Broken {
		typ = EventStreakBroken
	}
	ev := newEvent(typ, child, at)
	ev.Streak = res.Current
	ev.Metadata = map[string]any{"longest": res.Longest, "new_record": res.IsNewRecord}
	return ev
}

func NewAchievementUnlocked(child ChildID, def AchievementDef, at time.Time) Event {
	ev := newEvent(EventAchievementUnlocked, child, at)
	ev.Achievement = def.Key
	ev.Metadata = map[string]any{"name": def.Name, "emoji": def.Emoji, "category": string(def.Category)}
	return ev
}

func NewLessonCompleted(child ChildID, in LessonInput, stars int64, at time.Time) Event {
	ev := newEvent(EventLessonCompleted, child, at)
	ev.Delta = stars
	ev.Metadata = map[string]any{
		"words_learned":   in.WordsLearned,
		"correct_answers": in.CorrectAnswers,
		"total_answers":   in.TotalAnswers,
		"is_perfect":      in.IsPerfect,
	}
	return ev
}

func NewAnswerRecorded(child ChildID, isCorrect bool, attempt int, stars int64, at time.Time) Event {
	ev := newEvent(EventAnswerRecorded, child, at)
	ev.Delta = stars
	ev.Metadata = map[string]any{"is_correct": isCorrect, "attempt": attempt}
	return ev
}

func NewChildRegistered(child ChildID, at time.Time) Event {
	return newEvent(EventChildRegistered, child, at)
}
