package core

import (
	"errors"
	"math"
	"testing"
)

func TestForAnswer(t *testing.T) {
	r := DefaultRewards()
	var prev int64 = 1 << 62
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		got, err := r.ForAnswer(true, attempt)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if got >= prev {
			t.Fatalf("attempt %d earned %d, not below previous %d", attempt, got, prev)
		}
		prev = got
		if wrong, _ := r.ForAnswer(false, attempt); wrong != 0 {
			t.Fatalf("incorrect answer earned %d", wrong)
		}
	}
	for _, bad := range []int{0, 4, -1} {
		if _, err := r.ForAnswer(true, bad); !errors.Is(err, ErrValidation) {
			t.Fatalf("attempt %d: expected validation error, got %v", bad, err)
		}
	}
}

func TestForLesson(t *testing.T) {
	r := DefaultRewards()
	cases := []struct {
		name string
		in   LessonInput
		want int64
	}{
		// base 5 + words 4 + accuracy 5*8/10=4
		{"partial accuracy", LessonInput{WordsLearned: 4, CorrectAnswers: 8, TotalAnswers: 10}, 13},
		{"word stars capped", LessonInput{WordsLearned: 50, CorrectAnswers: 5, TotalAnswers: 5, IsPerfect: true}, 5 + 10 + 5 + 10},
		{"largest lesson", LessonInput{WordsLearned: MaxLessonCount, CorrectAnswers: MaxLessonCount, TotalAnswers: MaxLessonCount, IsPerfect: true}, 30},
		{"empty", LessonInput{}, 5},
	}
	for _, tc := range cases {
		got, err := r.ForLesson(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("%s: got %d, %v; want %d", tc.name, got, err, tc.want)
		}
	}
}

func TestForLessonLargeSchedules(t *testing.T) {
	r := DefaultRewards()
	r.Lessons.AccuracyBonus = math.MaxInt64 / 2
	r.Lessons.PerWord = math.MaxInt64 / 3
	r.Lessons.MaxWordStars = 100
	// accuracy must not overflow before dividing
	got, err := r.ForLesson(LessonInput{WordsLearned: 7, CorrectAnswers: 3, TotalAnswers: 4})
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(5) + 100 + (math.MaxInt64/2)/4*3 + (math.MaxInt64/2)%4*3/4; got != want {
		t.Fatalf("got %d want %d", got, want)
	}

	r.Lessons.PerfectBonus = math.MaxInt64
	if _, err := r.ForLesson(LessonInput{IsPerfect: true}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected overflow validation error, got %v", err)
	}
}

func TestLessonInputValidate(t *testing.T) {
	bad := []LessonInput{
		{WordsLearned: -1},
		{CorrectAnswers: 3, TotalAnswers: 2},
		{WordsLearned: MaxLessonCount + 1},
		{CorrectAnswers: 2e18, TotalAnswers: 2e18},
	}
	for _, in := range bad {
		if err := in.Validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", in, err)
		}
	}
	if err := (LessonInput{WordsLearned: 3, CorrectAnswers: 2, TotalAnswers: 2}).Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestAddCount(t *testing.T) {
	if n, err := AddCount("total_lessons", 4, 1); err != nil || n != 5 {
		t.Fatalf("got %d, %v", n, err)
	}
	n, err := AddCount("words_learned", math.MaxInt-1, 2)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "words_learned" {
		t.Fatalf("expected validation error on words_learned, got %v", err)
	}
	if n != math.MaxInt-1 {
		t.Fatalf("counter changed on overflow: %d", n)
	}
}

func TestRewardTableValidate(t *testing.T) {
	if err := DefaultRewards().Validate(); err != nil {
		t.Fatal(err)
	}
	flat := DefaultRewards()
	flat.Answers = AnswerRewards{FirstTry: 2, SecondTry: 2, ThirdTry: 1}
	if err := flat.Validate(); err == nil {
		t.Fatal("non-decreasing schedule should fail")
	}
	neg := DefaultRewards()
	neg.Lessons.Base = -1
	if err := neg.Validate(); err == nil {
		t.Fatal("negative lesson reward should fail")
	}
}
