package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// ChildID uniquely identifies a child profile.
type ChildID string

// Child is a snapshot of a child's gamification record.
// Stars only grow; GamificationLevel is a cache of Levels.ForStars(Stars).
type Child struct {
	ID                ChildID    `json:"id"`
	Name              string     `json:"name"`
	Avatar            string     `json:"avatar,omitempty"`
	Stars             int64      `json:"stars"`
	CurrentStreak     int        `json:"current_streak"`
	LongestStreak     int        `json:"longest_streak"`
	LastActivityDate  *time.Time `json:"last_activity_date,omitempty"`
	TotalLessons      int        `json:"total_lessons"`
	TotalWordsLearned int        `json:"total_words_learned"`
	PerfectLessons    int        `json:"perfect_lessons"`
	TotalAnswers      int        `json:"total_answers"`
	CorrectAnswers    int        `json:"correct_answers"`
	GamificationLevel int        `json:"gamification_level"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can stage changes without aliasing.
func (c Child) Clone() Child {
	cp := c
	if c.LastActivityDate != nil {
		d := *c.LastActivityDate
		cp.LastActivityDate = &d
	}
	return cp
}

// EarnedAchievement records that a child unlocked an achievement. At most one per (ChildID, Key).
type EarnedAchievement struct {
	ChildID  ChildID   `json:"child_id"`
	Key      string    `json:"key"`
	EarnedAt time.Time `json:"earned_at"`
}

// DailyActivity aggregates one child's activity for one calendar day.
type DailyActivity struct {
	ChildID          ChildID   `json:"child_id"`
	Day              time.Time `json:"day"`
	LessonsCompleted int       `json:"lessons_completed"`
	StarsEarned      int64     `json:"stars_earned"`
	WordsLearned     int       `json:"words_learned"`
	AnswersRecorded  int       `json:"answers_recorded"`
}

// Merge adds the counters of d into a and returns the result.
func (a DailyActivity) Merge(d DailyActivity) DailyActivity {
	a.LessonsCompleted += d.LessonsCompleted
	a.StarsEarned += d.StarsEarned
	a.WordsLearned += d.WordsLearned
	a.AnswersRecorded += d.AnswersRecorded
	return a
}

// IsZero reports whether no counter is set.
func (a DailyActivity) IsZero() bool {
	return a.LessonsCompleted == 0 && a.StarsEarned == 0 && a.WordsLearned == 0 && a.AnswersRecorded == 0
}

// Stats is the aggregate view achievements are evaluated against.
type Stats struct {
	TotalStars         int64 `json:"total_stars"`
	TotalLessons       int   `json:"total_lessons"`
	CurrentStreak      int   `json:"current_streak"`
	LongestStreak      int   `json:"longest_streak"`
	TotalWordsLearned  int   `json:"total_words_learned"`
	PerfectLessonCount int   `json:"perfect_lesson_count"`
	TotalAnswers       int   `json:"total_answers"`
	CorrectAnswers     int   `json:"correct_answers"`
	Level              int   `json:"level"`
}

// StatsOf derives the evaluation stats of a child, resolving the level from stars.
func StatsOf(c Child, levels LevelTable) Stats {
	return Stats{
		TotalStars:         c.Stars,
		TotalLessons:       c.TotalLessons,
		CurrentStreak:      c.CurrentStreak,
		LongestStreak:      c.LongestStreak,
		TotalWordsLearned:  c.TotalWordsLearned,
		PerfectLessonCount: c.PerfectLessons,
		TotalAnswers:       c.TotalAnswers,
		CorrectAnswers:     c.CorrectAnswers,
		Level:              levels.ForStars(c.Stars).Number,
	}
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// AddCount adds a non-negative delta to a lifetime counter. Overflow is a
// ValidationError on field; the counter is left as it was.
func AddCount(field string, base, delta int) (int, error) {
	if delta < 0 || base > math.MaxInt-delta {
		return base, NewValidationError(field, "counter would overflow")
	}
	return base + delta, nil
}

// NormalizeChildID trims and lowercases child identifiers.
func NormalizeChildID(id ChildID) (ChildID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", NewValidationError("child_id", "must not be empty")
	}
	for _, r := range s {
		if r == '/' || r == ':' || r < ' ' {
			return "", NewValidationError("child_id", "contains invalid characters")
		}
	}
	return ChildID(strings.ToLower(s)), nil
}

// ValidateKey ensures a non-empty catalogue key with a simple charset check.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("empty key")
	}
	// lower alnum, dash, underscore
	for _, r := range key {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return errors.New("invalid key " + key)
	}
	return nil
}
