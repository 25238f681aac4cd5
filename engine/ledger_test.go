package engine_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "starkit/adapters/memory"
	"starkit/core"
	"starkit/engine"
)

func testCatalog(t *testing.T) core.Catalog {
	t.Helper()
	levels, err := core.NewLevelTable(
		core.Level{MinStars: 0, Name: "Seed"},
		core.Level{MinStars: 100, Name: "Sprout"},
		core.Level{MinStars: 500, Name: "Bloom"},
	)
	require.NoError(t, err)
	return core.Catalog{
		Levels: levels,
		Achievements: core.AchievementSet{
			{Key: "first_lesson", Name: "First Lesson", Category: core.CategoryLessons, Trigger: core.Trigger{Metric: core.StatLessons, Threshold: 1}},
			{Key: "first_perfect", Name: "Perfect!", Category: core.CategoryPerfect, Trigger: core.Trigger{Metric: core.StatPerfectLessons, Threshold: 1}},
			{Key: "streak_2", Name: "Two Days", Category: core.CategoryStreak, Trigger: core.Trigger{Metric: core.StatCurrentStreak, Threshold: 2}},
			{Key: "sharp", Name: "Sharp", Category: core.CategoryAccuracy, Trigger: core.Trigger{Metric: core.StatAccuracy, Threshold: 80, MinAnswers: 5, Mode: core.ModeTransition}},
			{Key: "sprout", Name: "Sprouted", Category: core.CategoryLevel, Trigger: core.Trigger{Metric: core.StatLevel, Threshold: 2}},
		},
		Rewards: core.DefaultRewards(),
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLedger(t *testing.T, store engine.Storage) (*engine.Ledger, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	l := engine.NewLedger(store, engine.NewEventBus(engine.DispatchSync), testCatalog(t), engine.WithClock(clk.Now))
	_, err := l.RegisterChild(context.Background(), engine.ChildInput{ID: "kid", Name: "Kid"})
	require.NoError(t, err)
	return l, clk
}

func TestAddStarsLevelsUp(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	res, err := l.AddStars(context.Background(), "kid", 100, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.NewTotal)
	assert.True(t, res.LeveledUp)
	require.NotNil(t, res.NewLevel)
	assert.Equal(t, "Sprout", res.NewLevel.Name)

	res, err = l.AddStars(context.Background(), "kid", 1, "test")
	require.NoError(t, err)
	assert.False(t, res.LeveledUp)
	assert.Nil(t, res.NewLevel)
}

func TestAddStarsSkipsAchievementsAndStreak(t *testing.T) {
	store := mem.New()
	l, _ := newLedger(t, store)
	_, err := l.AddStars(context.Background(), "kid", 150, "grant")
	require.NoError(t, err)

	earned, err := store.ListEarnedAchievements(context.Background(), "kid")
	require.NoError(t, err)
	assert.Empty(t, earned)
	c, _ := store.GetChild(context.Background(), "kid")
	assert.Zero(t, c.CurrentStreak)
	assert.Nil(t, c.LastActivityDate)
	assert.Equal(t, 2, c.GamificationLevel)
}

func TestAddStarsValidation(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	_, err := l.AddStars(context.Background(), "kid", 0, "zero")
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = l.AddStars(context.Background(), "kid", -5, "negative")
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = l.AddStars(context.Background(), "ghost", 5, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegisterChild(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	_, err := l.RegisterChild(context.Background(), engine.ChildInput{ID: "KID", Name: "Dup"})
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
	_, err = l.RegisterChild(context.Background(), engine.ChildInput{ID: "other"})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = l.RegisterChild(context.Background(), engine.ChildInput{ID: "a/b", Name: "Slash"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRecordAnswerRewardsByAttempt(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	ctx := context.Background()
	want := []int64{3, 2, 1}
	for i, stars := range want {
		res, err := l.RecordAnswer(ctx, "kid", true, i+1)
		require.NoError(t, err)
		assert.Equal(t, stars, res.StarsEarned)
	}
	res, err := l.RecordAnswer(ctx, "kid", false, 1)
	require.NoError(t, err)
	assert.Zero(t, res.StarsEarned)
	assert.Equal(t, int64(6), res.NewTotal)

	_, err = l.RecordAnswer(ctx, "kid", true, 4)
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = l.RecordAnswer(ctx, "kid", true, 0)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRecordAnswerUnlocksAccuracyOnce(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	ctx := context.Background()
	var unlocked []string
	for i := 0; i < 5; i++ {
		res, err := l.RecordAnswer(ctx, "kid", true, 1)
		require.NoError(t, err)
		for _, a := range res.NewAchievements {
			unlocked = append(unlocked, a.Key)
		}
	}
	assert.Equal(t, []string{"sharp"}, unlocked)

	for i := 0; i < 5; i++ {
		res, err := l.RecordAnswer(ctx, "kid", true, 1)
		require.NoError(t, err)
		assert.Empty(t, res.NewAchievements)
	}
}

func TestConcurrentAnswersDoNotLoseUpdates(t *testing.T) {
	store := mem.New()
	l, _ := newLedger(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.RecordAnswer(ctx, "kid", true, 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	c, err := store.GetChild(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, int64(150), c.Stars)
	assert.Equal(t, 50, c.TotalAnswers)
	assert.Equal(t, 50, c.CorrectAnswers)
	assert.Equal(t, testCatalog(t).Levels.ForStars(150).Number, c.GamificationLevel)

	earned, _ := store.ListEarnedAchievements(ctx, "kid")
	keys := map[string]int{}
	for _, e := range earned {
		keys[e.Key]++
	}
	assert.Equal(t, 1, keys["sharp"])
	assert.Equal(t, 1, keys["sprout"])
}

func TestPerfectLessonAchievementNotRepeated(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	ctx := context.Background()
	in := core.LessonInput{WordsLearned: 4, CorrectAnswers: 5, TotalAnswers: 5, IsPerfect: true}

	first, err := l.RecordLessonCompletion(ctx, "kid", in)
	require.NoError(t, err)
	var keys []string
	for _, a := range first.NewAchievements {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"first_lesson", "first_perfect"}, keys)
	assert.Equal(t, "Perfect!", first.NewAchievements[1].Name)
	// 5 base + 4 words + 5 accuracy + 10 perfect
	assert.Equal(t, int64(24), first.StarsEarned)
	assert.Equal(t, 1, first.Streak.Current)
	assert.True(t, first.Streak.IsNewRecord)

	second, err := l.RecordLessonCompletion(ctx, "kid", in)
	require.NoError(t, err)
	assert.Empty(t, second.NewAchievements)
	assert.Equal(t, 1, second.Streak.Current, "same day leaves the streak alone")
	assert.Equal(t, int64(48), second.NewTotal)
}

func TestLessonStreakAcrossDays(t *testing.T) {
	store := mem.New()
	l, clk := newLedger(t, store)
	ctx := context.Background()
	in := core.LessonInput{WordsLearned: 1, TotalAnswers: 1, CorrectAnswers: 1}

	_, err := l.RecordLessonCompletion(ctx, "kid", in)
	require.NoError(t, err)
	clk.Advance(24 * time.Hour)
	res, err := l.RecordLessonCompletion(ctx, "kid", in)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Streak.Current)
	require.Len(t, res.NewAchievements, 1)
	assert.Equal(t, "streak_2", res.NewAchievements[0].Key)

	clk.Advance(72 * time.Hour)
	res, err = l.RecordLessonCompletion(ctx, "kid", in)
	require.NoError(t, err)
	assert.Equal(t, core.StreakResult{Current: 1, Longest: 2, Broken: true}, res.Streak)

	c, _ := store.GetChild(ctx, "kid")
	require.NotNil(t, c.LastActivityDate)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), *c.LastActivityDate)
	assert.Equal(t, 3, c.TotalLessons)
}

func TestLessonLevelUpUsesUpdatedTotal(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	ctx := context.Background()
	_, err := l.AddStars(ctx, "kid", 90, "grant")
	require.NoError(t, err)

	res, err := l.RecordLessonCompletion(ctx, "kid", core.LessonInput{WordsLearned: 5})
	require.NoError(t, err)
	require.NotNil(t, res.LevelUp)
	assert.Equal(t, "Sprout", res.LevelUp.Name)

	keys := []string{}
	for _, a := range res.NewAchievements {
		keys = append(keys, a.Key)
	}
	assert.Contains(t, keys, "sprout")
}

func TestLessonValidation(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	_, err := l.RecordLessonCompletion(context.Background(), "kid", core.LessonInput{CorrectAnswers: 3, TotalAnswers: 2})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = l.RecordLessonCompletion(context.Background(), "kid", core.LessonInput{WordsLearned: -1})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = l.RecordLessonCompletion(context.Background(), "nobody", core.LessonInput{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLessonOversizedInputRejected(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	ctx := context.Background()
	huge := core.LessonInput{WordsLearned: math.MaxInt64, CorrectAnswers: 2e18, TotalAnswers: 2e18}
	for i := 0; i < 2; i++ {
		_, err := l.RecordLessonCompletion(ctx, "kid", huge)
		assert.ErrorIs(t, err, core.ErrValidation)
	}
	p, err := l.GetChildProgress(ctx, "kid")
	require.NoError(t, err)
	assert.Zero(t, p.TotalWordsLearned)
	assert.Zero(t, p.Stars)
}

func TestLessonCounterOverflowRejected(t *testing.T) {
	store := mem.New()
	l, _ := newLedger(t, store)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateChild(ctx, core.Child{ID: "bookworm", Name: "Bookworm", TotalWordsLearned: math.MaxInt - 3, CreatedAt: now, UpdatedAt: now}))

	_, err := l.RecordLessonCompletion(ctx, "bookworm", core.LessonInput{WordsLearned: 10})
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "words_learned", ve.Field)

	c, err := store.GetChild(ctx, "bookworm")
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt-3, c.TotalWordsLearned)
	assert.Zero(t, c.TotalLessons)
	assert.Zero(t, c.Stars)
}

// flakyStore fails the commit of the next Update after fn ran.
type flakyStore struct {
	*mem.Store
	fail bool
}

func (f *flakyStore) Update(ctx context.Context, id core.ChildID, fn func(engine.Tx) error) error {
	if !f.fail {
		return f.Store.Update(ctx, id, fn)
	}
	return f.Store.Update(ctx, id, func(tx engine.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errors.New("connection reset")
	})
}

func TestPersistenceFailureLeavesNothingBehind(t *testing.T) {
	store := &flakyStore{Store: mem.New()}
	l, _ := newLedger(t, store)
	ctx := context.Background()

	published := 0
	l.Subscribe(core.EventAchievementUnlocked, func(context.Context, core.Event) { published++ })

	store.fail = true
	_, err := l.RecordLessonCompletion(ctx, "kid", core.LessonInput{IsPerfect: true})
	assert.ErrorIs(t, err, core.ErrPersistence)
	assert.Zero(t, published)

	c, _ := store.GetChild(ctx, "kid")
	assert.Zero(t, c.Stars)
	assert.Zero(t, c.TotalLessons)

	store.fail = false
	res, err := l.RecordLessonCompletion(ctx, "kid", core.LessonInput{IsPerfect: true})
	require.NoError(t, err)
	assert.Len(t, res.NewAchievements, 2)
	assert.Equal(t, 2, published)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	l, _ := newLedger(t, mem.New())
	var got []core.EventType
	l.Subscribe(core.EventLessonCompleted, func(_ context.Context, e core.Event) { got = append(got, e.Type) })
	l.Subscribe(core.EventStarsAdded, func(_ context.Context, e core.Event) { got = append(got, e.Type) })
	l.Subscribe(core.EventStreakUpdated, func(_ context.Context, e core.Event) { got = append(got, e.Type) })
	l.Subscribe(core.EventAchievementUnlocked, func(_ context.Context, e core.Event) { got = append(got, e.Type) })

	_, err := l.RecordLessonCompletion(context.Background(), "kid", core.LessonInput{WordsLearned: 1})
	require.NoError(t, err)
	assert.Equal(t, []core.EventType{
		core.EventLessonCompleted,
		core.EventStarsAdded,
		core.EventStreakUpdated,
		core.EventAchievementUnlocked,
	}, got)
}
