package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"starkit/core"
)

// Ledger is the sole mutator of a child's gamification counters. Every operation
// runs as one Storage.Update, so a failed call leaves nothing behind, and publishes
// domain events only after its unit of work committed.
type Ledger struct {
	storage Storage
	bus     *EventBus
	catalog core.Catalog
	now     func() time.Time
	loc     *time.Location
	log     *zap.Logger
}

// LedgerOption customises a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the time source used for "today" and timestamps.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLocation sets the reference time zone in which calendar days are counted.
func WithLocation(loc *time.Location) LedgerOption {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(log *zap.Logger) LedgerOption {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

func NewLedger(storage Storage, bus *EventBus, catalog core.Catalog, opts ...LedgerOption) *Ledger {
	if storage == nil || bus == nil {
		panic("NewLedger requires non-nil storage and bus")
	}
	if err := catalog.Validate(); err != nil {
		panic("NewLedger: invalid catalog: " + err.Error())
	}
	l := &Ledger{
		storage: storage,
		bus:     bus,
		catalog: catalog,
		now:     time.Now,
		loc:     time.UTC,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With(zap.String("component", "ledger"))
	return l
}

// Catalog returns the catalogue the ledger evaluates against.
func (l *Ledger) Catalog() core.Catalog { return l.catalog }

// Subscribe convenience method.
func (l *Ledger) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return l.bus.Subscribe(typ, handler)
}

// SubscribeAll registers handler for every event type.
func (l *Ledger) SubscribeAll(handler func(context.Context, core.Event)) func() {
	return l.bus.SubscribeAll(handler)
}

func (l *Ledger) Close() { l.bus.Close() }

// AddStarsResult is returned by AddStars.
type AddStarsResult struct {
	NewTotal  int64
	LeveledUp bool
	NewLevel  *core.Level
}

// AnswerResult is returned by RecordAnswer.
type AnswerResult struct {
	StarsEarned     int64
	NewTotal        int64
	LeveledUp       bool
	NewLevel        *core.Level
	NewAchievements []core.AchievementDef
}

// LessonResult is returned by RecordLessonCompletion.
type LessonResult struct {
	StarsEarned     int64
	NewTotal        int64
	Streak          core.StreakResult
	LevelUp         *core.Level
	NewAchievements []core.AchievementDef
}

// ChildInput describes a child profile to register.
type ChildInput struct {
	ID     core.ChildID
	Name   string
	Avatar string
}

// RegisterChild creates a child with every counter at zero.
func (l *Ledger) RegisterChild(ctx context.Context, in ChildInput) (core.Child, error) {
	id, err := core.NormalizeChildID(in.ID)
	if err != nil {
		return core.Child{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return core.Child{}, core.NewValidationError("name", "must not be empty")
	}
	now := l.now().UTC()
	child := core.Child{
		ID:                id,
		Name:              name,
		Avatar:            in.Avatar,
		GamificationLevel: l.catalog.Levels.ForStars(0).Number,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := l.storage.CreateChild(ctx, child); err != nil {
		return core.Child{}, core.Persistence("create child", err)
	}
	l.log.Info("child registered", zap.String("child_id", string(id)))
	l.bus.Publish(ctx, core.NewChildRegistered(id, now))
	return child, nil
}

// AddStars grants amount stars. It recomputes the level but never touches the
// streak or achievements; those belong to answers and lessons.
func (l *Ledger) AddStars(ctx context.Context, childID core.ChildID, amount int64, reason string) (AddStarsResult, error) {
	id, err := core.NormalizeChildID(childID)
	if err != nil {
		return AddStarsResult{}, err
	}
	if amount <= 0 {
		return AddStarsResult{}, core.NewValidationError("amount", "must be positive")
	}
	now := l.now()
	var award starAward
	err = l.storage.Update(ctx, id, func(tx Tx) error {
		child := tx.Child()
		var err error
		if award, err = l.applyStars(&child, amount); err != nil {
			return err
		}
		child.UpdatedAt = now.UTC()
		if err := tx.AddDailyActivity(core.DailyActivity{ChildID: id, Day: l.today(now), StarsEarned: amount}); err != nil {
			return err
		}
		return tx.SaveChild(child)
	})
	if err != nil {
		return AddStarsResult{}, l.fail("add stars", id, err)
	}

	res := AddStarsResult{NewTotal: award.total, LeveledUp: award.leveledUp()}
	if res.LeveledUp {
		lvl := award.after
		res.NewLevel = &lvl
	}
	l.log.Debug("stars added", zap.String("child_id", string(id)), zap.Int64("amount", amount), zap.Int64("total", award.total), zap.String("reason", reason))
	l.bus.Publish(ctx, core.NewStarsAdded(id, amount, award.total, reason, now))
	l.publishLevelUp(ctx, id, award, now)
	return res, nil
}

// RecordAnswer records one quiz answer and awards stars by attempt number.
// Answers feed the accuracy achievements, so achievements are evaluated here.
func (l *Ledger) RecordAnswer(ctx context.Context, childID core.ChildID, isCorrect bool, attempt int) (AnswerResult, error) {
	id, err := core.NormalizeChildID(childID)
	if err != nil {
		return AnswerResult{}, err
	}
	stars, err := l.catalog.Rewards.ForAnswer(isCorrect, attempt)
	if err != nil {
		return AnswerResult{}, err
	}
	now := l.now()
	var (
		award    starAward
		unlocked []core.AchievementDef
	)
	err = l.storage.Update(ctx, id, func(tx Tx) error {
		child := tx.Child()
		earned, err := tx.EarnedKeys()
		if err != nil {
			return err
		}
		before := core.StatsOf(child, l.catalog.Levels)

		if child.TotalAnswers, err = core.AddCount("total_answers", child.TotalAnswers, 1); err != nil {
			return err
		}
		if isCorrect {
			if child.CorrectAnswers, err = core.AddCount("correct_answers", child.CorrectAnswers, 1); err != nil {
				return err
			}
		}
		if award, err = l.applyStars(&child, stars); err != nil {
			return err
		}
		child.UpdatedAt = now.UTC()

		after := core.StatsOf(child, l.catalog.Levels)
		if unlocked, err = l.unlock(tx, id, before, after, earned, now); err != nil {
			return err
		}
		day := core.DailyActivity{ChildID: id, Day: l.today(now), StarsEarned: stars, AnswersRecorded: 1}
		if err := tx.AddDailyActivity(day); err != nil {
			return err
		}
		return tx.SaveChild(child)
	})
	if err != nil {
		return AnswerResult{}, l.fail("record answer", id, err)
	}

	res := AnswerResult{StarsEarned: stars, NewTotal: award.total, LeveledUp: award.leveledUp(), NewAchievements: unlocked}
	if res.LeveledUp {
		lvl := award.after
		res.NewLevel = &lvl
	}
	l.log.Debug("answer recorded", zap.String("child_id", string(id)), zap.Bool("correct", isCorrect), zap.Int("attempt", attempt), zap.Int64("stars", stars))
	l.bus.Publish(ctx, core.NewAnswerRecorded(id, isCorrect, attempt, stars, now))
	if stars > 0 {
		l.bus.Publish(ctx, core.NewStarsAdded(id, stars, award.total, "answer", now))
	}
	l.publishLevelUp(ctx, id, award, now)
	l.publishAchievements(ctx, id, unlocked, now)
	return res, nil
}

// RecordLessonCompletion applies a finished lesson: lesson stars, counters, the
// daily streak, the level and any achievements the new stats unlock, all in one
// unit of work.
func (l *Ledger) RecordLessonCompletion(ctx context.Context, childID core.ChildID, in core.LessonInput) (LessonResult, error) {
	id, err := core.NormalizeChildID(childID)
	if err != nil {
		return LessonResult{}, err
	}
	if err := in.Validate(); err != nil {
		return LessonResult{}, err
	}
	stars, err := l.catalog.Rewards.ForLesson(in)
	if err != nil {
		return LessonResult{}, err
	}
	now := l.now()
	today := l.today(now)
	var (
		award    starAward
		streak   core.StreakResult
		unlocked []core.AchievementDef
	)
	err = l.storage.Update(ctx, id, func(tx Tx) error {
		child := tx.Child()
		earned, err := tx.EarnedKeys()
		if err != nil {
			return err
		}
		before := core.StatsOf(child, l.catalog.Levels)

		if child.TotalLessons, err = core.AddCount("total_lessons", child.TotalLessons, 1); err != nil {
			return err
		}
		if child.TotalWordsLearned, err = core.AddCount("words_learned", child.TotalWordsLearned, in.WordsLearned); err != nil {
			return err
		}
		if in.IsPerfect {
			if child.PerfectLessons, err = core.AddCount("perfect_lessons", child.PerfectLessons, 1); err != nil {
				return err
			}
		}

		streak = core.UpdateStreak(child.LastActivityDate, today, child.CurrentStreak, child.LongestStreak)
		child.CurrentStreak, child.LongestStreak = streak.Current, streak.Longest
		day := today
		child.LastActivityDate = &day

		if award, err = l.applyStars(&child, stars); err != nil {
			return err
		}
		child.UpdatedAt = now.UTC()

		after := core.StatsOf(child, l.catalog.Levels)
		if unlocked, err = l.unlock(tx, id, before, after, earned, now); err != nil {
			return err
		}
		activity := core.DailyActivity{
			ChildID:          id,
			Day:              today,
			LessonsCompleted: 1,
			StarsEarned:      stars,
			WordsLearned:     in.WordsLearned,
		}
		if err := tx.AddDailyActivity(activity); err != nil {
			return err
		}
		return tx.SaveChild(child)
	})
	if err != nil {
		return LessonResult{}, l.fail("record lesson", id, err)
	}

	res := LessonResult{StarsEarned: stars, NewTotal: award.total, Streak: streak, NewAchievements: unlocked}
	if award.leveledUp() {
		lvl := award.after
		res.LevelUp = &lvl
	}
	l.log.Debug("lesson recorded",
		zap.String("child_id", string(id)),
		zap.Int64("stars", stars),
		zap.Int("streak", streak.Current),
		zap.Bool("streak_broken", streak.Broken))
	l.bus.Publish(ctx, core.NewLessonCompleted(id, in, stars, now))
	if stars > 0 {
		l.bus.Publish(ctx, core.NewStarsAdded(id, stars, award.total, "lesson", now))
	}
	l.bus.Publish(ctx, core.NewStreakEvent(id, streak, now))
	l.publishLevelUp(ctx, id, award, now)
	l.publishAchievements(ctx, id, unlocked, now)
	return res, nil
}

type starAward struct {
	before core.Level
	after  core.Level
	total  int64
}

func (a starAward) leveledUp() bool { return a.after.Number > a.before.Number }

// applyStars adds amount to the child and refreshes the cached level from the new
// total. The cached level on the record is never used as input.
func (l *Ledger) applyStars(child *core.Child, amount int64) (starAward, error) {
	before := l.catalog.Levels.ForStars(child.Stars)
	total, err := core.AddSafe(child.Stars, amount)
	if err != nil {
		return starAward{}, core.NewValidationError("amount", "star total would overflow")
	}
	after := l.catalog.Levels.ForStars(total)
	child.Stars = total
	child.GamificationLevel = after.Number
	return starAward{before: before, after: after, total: total}, nil
}

// unlock evaluates the catalogue and inserts each new achievement. Keys whose insert
// finds an existing row are left out of the result.
func (l *Ledger) unlock(tx Tx, id core.ChildID, before, after core.Stats, earned map[string]struct{}, now time.Time) ([]core.AchievementDef, error) {
	keys := l.catalog.Achievements.Evaluate(before, after, earned)
	if len(keys) == 0 {
		return nil, nil
	}
	out := make([]core.AchievementDef, 0, len(keys))
	for _, key := range keys {
		inserted, err := tx.InsertAchievementIfAbsent(core.EarnedAchievement{ChildID: id, Key: key, EarnedAt: now.UTC()})
		if err != nil {
			return nil, err
		}
		if !inserted {
			continue
		}
		def, _ := l.catalog.Achievements.Lookup(key)
		out = append(out, def)
	}
	return out, nil
}

func (l *Ledger) today(now time.Time) time.Time { return core.Day(now, l.loc) }

func (l *Ledger) fail(op string, id core.ChildID, err error) error {
	err = core.Persistence(op, err)
	if errors.Is(err, core.ErrPersistence) {
		l.log.Error(op+" failed", zap.String("child_id", string(id)), zap.Error(err))
	}
	return err
}

func (l *Ledger) publishLevelUp(ctx context.Context, id core.ChildID, award starAward, now time.Time) {
	if !award.leveledUp() {
		return
	}
	l.log.Info("level up", zap.String("child_id", string(id)), zap.Int("level", award.after.Number), zap.String("name", award.after.Name))
	l.bus.Publish(ctx, core.NewLevelUp(id, award.after, now))
}

func (l *Ledger) publishAchievements(ctx context.Context, id core.ChildID, defs []core.AchievementDef, now time.Time) {
	for _, def := range defs {
		l.log.Info("achievement unlocked", zap.String("child_id", string(id)), zap.String("key", def.Key))
		l.bus.Publish(ctx, core.NewAchievementUnlocked(id, def, now))
	}
}
