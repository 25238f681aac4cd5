package core

import (
	"errors"
	"fmt"
)

// Category groups achievements for display.
type Category string

const (
	CategoryLessons  Category = "lessons"
	CategoryStreak   Category = "streak"
	CategoryStars    Category = "stars"
	CategoryWords    Category = "words"
	CategoryPerfect  Category = "perfect"
	CategoryAccuracy Category = "accuracy"
	CategoryLevel    Category = "level"
)

// StatMetric names the Stats value a trigger compares against its threshold.
type StatMetric string

const (
	StatStars          StatMetric = "stars"
	StatLessons        StatMetric = "lessons"
	StatCurrentStreak  StatMetric = "current_streak"
	StatLongestStreak  StatMetric = "longest_streak"
	StatWords          StatMetric = "words"
	StatPerfectLessons StatMetric = "perfect_lessons"
	StatCorrectAnswers StatMetric = "correct_answers"
	StatAccuracy       StatMetric = "accuracy"
	StatLevel          StatMetric = "level"
)

// TriggerMode controls how the before-snapshot is taken into account.
type TriggerMode string

const (
	// ModeThreshold awards whenever the threshold holds and the key is unearned,
	// so a threshold crossed on a non-evaluating path is caught up later.
	ModeThreshold TriggerMode = "threshold"
	// ModeTransition awards only on a false to true transition between snapshots.
	ModeTransition TriggerMode = "transition"
)

// Trigger is a threshold predicate over Stats.
type Trigger struct {
	Metric    StatMetric `json:"metric" yaml:"metric"`
	Threshold int64      `json:"threshold" yaml:"threshold"`
	// MinAnswers gates ratio metrics until enough answers exist.
	MinAnswers int         `json:"min_answers,omitempty" yaml:"min_answers"`
	Mode       TriggerMode `json:"mode,omitempty" yaml:"mode"`
}

// Holds reports whether s satisfies the trigger.
func (t Trigger) Holds(s Stats) bool {
	switch t.Metric {
	case StatStars:
		return s.TotalStars >= t.Threshold
	case StatLessons:
		return int64(s.TotalLessons) >= t.Threshold
	case StatCurrentStreak:
		return int64(s.CurrentStreak) >= t.Threshold
	case StatLongestStreak:
		return int64(s.LongestStreak) >= t.Threshold
	case StatWords:
		return int64(s.TotalWordsLearned) >= t.Threshold
	case StatPerfectLessons:
		return int64(s.PerfectLessonCount) >= t.Threshold
	case StatCorrectAnswers:
		return int64(s.CorrectAnswers) >= t.Threshold
	case StatAccuracy:
		if s.TotalAnswers == 0 || s.TotalAnswers < t.MinAnswers {
			return false
		}
		return int64(s.CorrectAnswers)*100 >= t.Threshold*int64(s.TotalAnswers)
	case StatLevel:
		return int64(s.Level) >= t.Threshold
	}
	return false
}

func (t Trigger) validate() error {
	switch t.Metric {
	case StatStars, StatLessons, StatCurrentStreak, StatLongestStreak, StatWords,
		StatPerfectLessons, StatCorrectAnswers, StatLevel:
	case StatAccuracy:
		if t.Threshold > 100 {
			return fmt.Errorf("accuracy threshold %d above 100", t.Threshold)
		}
	default:
		return fmt.Errorf("unknown metric %q", t.Metric)
	}
	if t.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %d", t.Threshold)
	}
	if t.MinAnswers < 0 {
		return errors.New("min_answers must not be negative")
	}
	switch t.Mode {
	case "", ModeThreshold, ModeTransition:
	default:
		return fmt.Errorf("unknown mode %q", t.Mode)
	}
	return nil
}

// AchievementDef is a catalogue entry. Keys are durable and must never change.
type AchievementDef struct {
	Key         string   `json:"key" yaml:"key"`
	Name        string   `json:"name" yaml:"name"`
	Emoji       string   `json:"emoji" yaml:"emoji"`
	Description string   `json:"description" yaml:"description"`
	Category    Category `json:"category" yaml:"category"`
	Trigger     Trigger  `json:"trigger" yaml:"trigger"`
}

// AchievementSet is the ordered achievement catalogue.
type AchievementSet []AchievementDef

// Validate checks key uniqueness and trigger sanity.
func (a AchievementSet) Validate() error {
	seen := make(map[string]struct{}, len(a))
	for i, def := range a {
		if err := ValidateKey(def.Key); err != nil {
			return fmt.Errorf("achievement %d: %w", i, err)
		}
		if _, dup := seen[def.Key]; dup {
			return fmt.Errorf("duplicate achievement key %q", def.Key)
		}
		seen[def.Key] = struct{}{}
		if def.Name == "" {
			return fmt.Errorf("achievement %q has no name", def.Key)
		}
		if err := def.Trigger.validate(); err != nil {
			return fmt.Errorf("achievement %q: %w", def.Key, err)
		}
	}
	return nil
}

// Lookup resolves a key to its definition.
func (a AchievementSet) Lookup(key string) (AchievementDef, bool) {
	for _, def := range a {
		if def.Key == key {
			return def, true
		}
	}
	return AchievementDef{}, false
}

// Evaluate returns, in catalogue order, the keys that become earned when stats move
// from before to after. Keys already in earned are never returned.
func (a AchievementSet) Evaluate(before, after Stats, earned map[string]struct{}) []string {
	var out []string
	for _, def := range a {
		if _, ok := earned[def.Key]; ok {
			continue
		}
		if !def.Trigger.Holds(after) {
			continue
		}
		if def.Trigger.Mode == ModeTransition && def.Trigger.Holds(before) {
			continue
		}
		out = append(out, def.Key)
	}
	return out
}
