package core

import (
	"errors"
	"fmt"
)

// MaxAttempts is the highest attempt number an answer can be recorded with.
const MaxAttempts = 3

// MaxLessonCount caps the words and answers a single lesson can report.
const MaxLessonCount = 10_000

// AnswerRewards is the star schedule for correct answers by attempt number.
type AnswerRewards struct {
	FirstTry  int64 `json:"first_try" yaml:"first_try"`
	SecondTry int64 `json:"second_try" yaml:"second_try"`
	ThirdTry  int64 `json:"third_try" yaml:"third_try"`
}

// LessonRewards is the star schedule for a completed lesson.
type LessonRewards struct {
	Base          int64 `json:"base" yaml:"base"`
	PerWord       int64 `json:"per_word" yaml:"per_word"`
	MaxWordStars  int64 `json:"max_word_stars" yaml:"max_word_stars"`
	AccuracyBonus int64 `json:"accuracy_bonus" yaml:"accuracy_bonus"`
	PerfectBonus  int64 `json:"perfect_bonus" yaml:"perfect_bonus"`
}

// RewardTable holds every tunable star amount.
type RewardTable struct {
	Answers AnswerRewards `json:"answers" yaml:"answers"`
	Lessons LessonRewards `json:"lessons" yaml:"lessons"`
}

// DefaultRewards returns the stock schedule.
func DefaultRewards() RewardTable {
	return RewardTable{
		Answers: AnswerRewards{FirstTry: 3, SecondTry: 2, ThirdTry: 1},
		Lessons: LessonRewards{Base: 5, PerWord: 1, MaxWordStars: 10, AccuracyBonus: 5, PerfectBonus: 10},
	}
}

// Validate enforces that rewards fall strictly with each retry and nothing is negative.
func (r RewardTable) Validate() error {
	a := r.Answers
	if !(a.FirstTry > a.SecondTry && a.SecondTry > a.ThirdTry && a.ThirdTry >= 0) {
		return fmt.Errorf("answer rewards must strictly decrease by attempt and stay non-negative, got %d/%d/%d", a.FirstTry, a.SecondTry, a.ThirdTry)
	}
	l := r.Lessons
	if l.Base < 0 || l.PerWord < 0 || l.MaxWordStars < 0 || l.AccuracyBonus < 0 || l.PerfectBonus < 0 {
		return errors.New("lesson rewards must not be negative")
	}
	return nil
}

// ForAnswer returns the stars for one answer. Incorrect answers earn nothing.
func (r RewardTable) ForAnswer(isCorrect bool, attempt int) (int64, error) {
	if attempt < 1 || attempt > MaxAttempts {
		return 0, NewValidationError("attempt_number", fmt.Sprintf("must be between 1 and %d", MaxAttempts))
	}
	if !isCorrect {
		return 0, nil
	}
	switch attempt {
	case 1:
		return r.Answers.FirstTry, nil
	case 2:
		return r.Answers.SecondTry, nil
	default:
		return r.Answers.ThirdTry, nil
	}
}

// LessonInput describes one completed lesson.
type LessonInput struct {
	WordsLearned   int  `json:"wordsLearned"`
	CorrectAnswers int  `json:"correctAnswers"`
	TotalAnswers   int  `json:"totalAnswers"`
	IsPerfect      bool `json:"isPerfect"`
}

// Validate rejects negative or oversized counts and more correct answers than answers.
func (in LessonInput) Validate() error {
	tooMany := fmt.Sprintf("must not exceed %d", MaxLessonCount)
	switch {
	case in.WordsLearned < 0:
		return NewValidationError("words_learned", "must not be negative")
	case in.WordsLearned > MaxLessonCount:
		return NewValidationError("words_learned", tooMany)
	case in.CorrectAnswers < 0:
		return NewValidationError("correct_answers", "must not be negative")
	case in.TotalAnswers < 0:
		return NewValidationError("total_answers", "must not be negative")
	case in.TotalAnswers > MaxLessonCount:
		return NewValidationError("total_answers", tooMany)
	case in.CorrectAnswers > in.TotalAnswers:
		return NewValidationError("correct_answers", "must not exceed total_answers")
	}
	return nil
}

// ForLesson returns the stars for a completed validated lesson. A total past
// MaxInt64 is reported as a ValidationError.
func (r RewardTable) ForLesson(in LessonInput) (int64, error) {
	l := r.Lessons
	words := l.MaxWordStars
	if n := int64(in.WordsLearned); l.PerWord == 0 || n <= l.MaxWordStars/l.PerWord {
		words = min(n*l.PerWord, l.MaxWordStars)
	}
	var accuracy int64
	if total := int64(in.TotalAnswers); total > 0 {
		// bonus*correct/total without forming bonus*correct
		correct := int64(in.CorrectAnswers)
		accuracy = l.AccuracyBonus/total*correct + l.AccuracyBonus%total*correct/total
	}
	stars := l.Base
	for _, part := range []int64{words, accuracy, r.perfect(in)} {
		var err error
		if stars, err = AddSafe(stars, part); err != nil {
			return 0, NewValidationError("rewards", "lesson reward would overflow")
		}
	}
	return stars, nil
}

func (r RewardTable) perfect(in LessonInput) int64 {
	if in.IsPerfect {
		return r.Lessons.PerfectBonus
	}
	return 0
}
