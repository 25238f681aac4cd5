package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "starkit/adapters/memory"
	"starkit/core"
)

func TestGetChildProgress(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	ctx := context.Background()

	p, err := l.GetChildProgress(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, "Seed", p.Level.Name)
	assert.Equal(t, 0, p.LevelProgress)
	assert.Equal(t, int64(100), p.StarsToNextLevel)
	require.NotNil(t, p.NextLevel)
	assert.Equal(t, "Sprout", p.NextLevel.Name)
	assert.NotNil(t, p.Achievements)
	assert.Empty(t, p.Achievements)

	_, err = l.RecordLessonCompletion(ctx, "kid", core.LessonInput{WordsLearned: 3, CorrectAnswers: 2, TotalAnswers: 2, IsPerfect: true})
	require.NoError(t, err)
	_, err = l.AddStars(ctx, "kid", 277, "grant")
	require.NoError(t, err)

	p, err = l.GetChildProgress(ctx, "kid")
	require.NoError(t, err)
	// 23 from the lesson plus 277
	assert.Equal(t, int64(300), p.Stars)
	assert.Equal(t, "Sprout", p.Level.Name)
	assert.Equal(t, 50, p.LevelProgress)
	assert.Equal(t, int64(200), p.StarsToNextLevel)
	assert.Equal(t, []string{"first_lesson", "first_perfect"}, p.Achievements)
	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, 1, p.TotalLessons)
	assert.Equal(t, 3, p.TotalWordsLearned)
}

func TestGetChildProgressTopTier(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	_, err := l.AddStars(context.Background(), "kid", 9000, "grant")
	require.NoError(t, err)
	p, err := l.GetChildProgress(context.Background(), "kid")
	require.NoError(t, err)
	assert.Equal(t, "Bloom", p.Level.Name)
	assert.Nil(t, p.NextLevel)
	assert.Equal(t, 100, p.LevelProgress)
	assert.Zero(t, p.StarsToNextLevel)
}

func TestGetChildProgressNotFound(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	_, err := l.GetChildProgress(context.Background(), "nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = l.GetChildProgress(context.Background(), "  ")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestListAchievementsMarksEarned(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	ctx := context.Background()
	_, err := l.RecordLessonCompletion(ctx, "kid", core.LessonInput{})
	require.NoError(t, err)

	badges, err := l.ListAchievements(ctx, "kid")
	require.NoError(t, err)
	require.Len(t, badges, len(l.Catalog().Achievements))
	assert.Equal(t, "first_lesson", badges[0].Key)
	assert.True(t, badges[0].Earned)
	assert.NotNil(t, badges[0].EarnedAt)
	assert.False(t, badges[1].Earned)
	assert.Nil(t, badges[1].EarnedAt)
}

func TestDailyActivity(t *testing.T) {
	l, clk := newLedger(t, mem.New())
	ctx := context.Background()
	_, err := l.RecordLessonCompletion(ctx, "kid", core.LessonInput{WordsLearned: 2})
	require.NoError(t, err)
	_, err = l.RecordAnswer(ctx, "kid", true, 2)
	require.NoError(t, err)
	clk.Advance(24 * time.Hour)
	_, err = l.AddStars(ctx, "kid", 4, "bonus")
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	rows, err := l.DailyActivity(ctx, "kid", from, to)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, from, rows[0].Day)
	assert.Equal(t, 1, rows[0].LessonsCompleted)
	assert.Equal(t, 1, rows[0].AnswersRecorded)
	assert.Equal(t, int64(9), rows[0].StarsEarned)
	assert.Equal(t, 2, rows[0].WordsLearned)
	assert.Equal(t, int64(4), rows[1].StarsEarned)

	_, err = l.DailyActivity(ctx, "kid", to, from)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestPing(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	assert.NoError(t, l.Ping(context.Background()))
}
