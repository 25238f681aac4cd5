package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starkit/core"
	"starkit/engine"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateChild(ctx, core.Child{ID: "c1", Name: "Mia"}))
	assert.ErrorIs(t, s.CreateChild(ctx, core.Child{ID: "c1", Name: "Again"}), core.ErrAlreadyExists)

	err := s.Update(ctx, "c1", func(tx engine.Tx) error {
		c := tx.Child()
		c.Stars = 7
		if err := tx.SaveChild(c); err != nil {
			return err
		}
		ok, err := tx.InsertAchievementIfAbsent(core.EarnedAchievement{Key: "first_lesson", EarnedAt: day("2024-01-01")})
		require.True(t, ok)
		if err != nil {
			return err
		}
		ok, _ = tx.InsertAchievementIfAbsent(core.EarnedAchievement{Key: "first_lesson"})
		assert.False(t, ok)
		require.NoError(t, tx.AddDailyActivity(core.DailyActivity{Day: day("2024-01-01"), StarsEarned: 3}))
		return tx.AddDailyActivity(core.DailyActivity{Day: day("2024-01-01"), StarsEarned: 4, LessonsCompleted: 1})
	})
	require.NoError(t, err)

	c, err := s.GetChild(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.Stars)

	earned, err := s.ListEarnedAchievements(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, earned, 1)
	assert.Equal(t, core.ChildID("c1"), earned[0].ChildID)

	rows, err := s.ListDailyActivity(ctx, "c1", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0].StarsEarned)
	assert.Equal(t, 1, rows[0].LessonsCompleted)
	assert.Equal(t, core.ChildID("c1"), rows[0].ChildID)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateChild(ctx, core.Child{ID: "c1", Name: "Mia"}))

	boom := errors.New("boom")
	err := s.Update(ctx, "c1", func(tx engine.Tx) error {
		c := tx.Child()
		c.Stars = 100
		_ = tx.SaveChild(c)
		_, _ = tx.InsertAchievementIfAbsent(core.EarnedAchievement{Key: "stars_100"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, _ := s.GetChild(ctx, "c1")
	assert.Zero(t, c.Stars)
	earned, _ := s.ListEarnedAchievements(ctx, "c1")
	assert.Empty(t, earned)
}

func TestUpdateMissingChild(t *testing.T) {
	called := false
	err := New().Update(context.Background(), "nobody", func(engine.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.False(t, called)
}

func TestUpdateSerializesPerChild(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateChild(ctx, core.Child{ID: "c1", Name: "Mia"}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "c1", func(tx engine.Tx) error {
				c := tx.Child()
				c.Stars++
				return tx.SaveChild(c)
			})
		}()
	}
	wg.Wait()
	c, _ := s.GetChild(ctx, "c1")
	assert.Equal(t, int64(100), c.Stars)
}

func TestListChildren(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateChild(ctx, core.Child{ID: "leo", Stars: 4}))
	require.NoError(t, s.CreateChild(ctx, core.Child{ID: "ada", Stars: 9}))

	kids, err := s.ListChildren(ctx)
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, core.ChildID("ada"), kids[0].ID)
	assert.Equal(t, int64(4), kids[1].Stars)
}
