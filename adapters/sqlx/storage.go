// Package sqlx stores child records in PostgreSQL, MySQL or SQLite through sqlx.
//
// Update runs inside one database transaction. The child row is locked with
// SELECT ... FOR UPDATE (PostgreSQL, MySQL) or by an immediate write transaction
// (SQLite), and the (child_id, achievement_key) primary key rejects a second
// award even if two transactions get past the lock.
package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"starkit/core"
	"starkit/engine"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver" yaml:"driver" env:"STORAGE_SQL_DRIVER"`
	DSN             string        `json:"dsn" yaml:"dsn" env:"STORAGE_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"STORAGE_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" env:"STORAGE_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"STORAGE_SQL_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `json:"auto_migrate" yaml:"auto_migrate" env:"STORAGE_SQL_AUTO_MIGRATE"`
}

// DefaultConfig returns pool defaults for driver. The DSN is left empty.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// Store implements engine.Storage on a relational database.
type Store struct {
	db      *sqlx.DB
	driver  Driver
	dialect dialect
}

// New opens and pings the database and, if configured, creates the schema.
func New(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sql dsn is required")
	}
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := prepareDSN(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(string(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	s := &Store{db: db, driver: cfg.Driver, dialect: d}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing connection (useful for testing). It panics on an
// unknown driver.
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	d, err := dialectFor(driver)
	if err != nil {
		panic(err)
	}
	return &Store{db: db, driver: driver, dialect: d}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

const childColumns = `id, name, avatar, stars, current_streak, longest_streak, last_activity_date,
	total_lessons, total_words_learned, perfect_lessons, total_answers, correct_answers,
	gamification_level, created_at, updated_at`

type childRow struct {
	ID                string       `db:"id"`
	Name              string       `db:"name"`
	Avatar            string       `db:"avatar"`
	Stars             int64        `db:"stars"`
	CurrentStreak     int          `db:"current_streak"`
	LongestStreak     int          `db:"longest_streak"`
	LastActivityDate  sql.NullTime `db:"last_activity_date"`
	TotalLessons      int          `db:"total_lessons"`
	TotalWordsLearned int          `db:"total_words_learned"`
	PerfectLessons    int          `db:"perfect_lessons"`
	TotalAnswers      int          `db:"total_answers"`
	CorrectAnswers    int          `db:"correct_answers"`
	GamificationLevel int          `db:"gamification_level"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

func toRow(c core.Child) childRow {
	r := childRow{
		ID:                string(c.ID),
		Name:              c.Name,
		Avatar:            c.Avatar,
		Stars:             c.Stars,
		CurrentStreak:     c.CurrentStreak,
		LongestStreak:     c.LongestStreak,
		TotalLessons:      c.TotalLessons,
		TotalWordsLearned: c.TotalWordsLearned,
		PerfectLessons:    c.PerfectLessons,
		TotalAnswers:      c.TotalAnswers,
		CorrectAnswers:    c.CorrectAnswers,
		GamificationLevel: c.GamificationLevel,
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
	if c.LastActivityDate != nil {
		r.LastActivityDate = sql.NullTime{Time: c.LastActivityDate.UTC(), Valid: true}
	}
	return r
}

func (r childRow) child() core.Child {
	c := core.Child{
		ID:                core.ChildID(r.ID),
		Name:              r.Name,
		Avatar:            r.Avatar,
		Stars:             r.Stars,
		CurrentStreak:     r.CurrentStreak,
		LongestStreak:     r.LongestStreak,
		TotalLessons:      r.TotalLessons,
		TotalWordsLearned: r.TotalWordsLearned,
		PerfectLessons:    r.PerfectLessons,
		TotalAnswers:      r.TotalAnswers,
		CorrectAnswers:    r.CorrectAnswers,
		GamificationLevel: r.GamificationLevel,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	if r.LastActivityDate.Valid {
		d := r.LastActivityDate.Time.UTC()
		c.LastActivityDate = &d
	}
	return c
}

func (s *Store) CreateChild(ctx context.Context, child core.Child) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO children (`+childColumns+`) VALUES (
		:id, :name, :avatar, :stars, :current_streak, :longest_streak, :last_activity_date,
		:total_lessons, :total_words_learned, :perfect_lessons, :total_answers, :correct_answers,
		:gamification_level, :created_at, :updated_at)`, toRow(child))
	if err != nil {
		if isUniqueViolation(err) {
			return core.ChildExists(child.ID)
		}
		return fmt.Errorf("insert child: %w", err)
	}
	return nil
}

func (s *Store) GetChild(ctx context.Context, id core.ChildID) (core.Child, error) {
	var row childRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+childColumns+` FROM children WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Child{}, core.ChildNotFound(id)
	}
	if err != nil {
		return core.Child{}, fmt.Errorf("select child: %w", err)
	}
	return row.child(), nil
}

func (s *Store) ListChildren(ctx context.Context) ([]core.Child, error) {
	var rows []childRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+childColumns+` FROM children ORDER BY id`); err != nil {
		return nil, fmt.Errorf("select children: %w", err)
	}
	out := make([]core.Child, len(rows))
	for i, r := range rows {
		out[i] = r.child()
	}
	return out, nil
}

func (s *Store) exists(ctx context.Context, id core.ChildID) error {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM children WHERE id = ?`), string(id)); err != nil {
		return fmt.Errorf("count child: %w", err)
	}
	if n == 0 {
		return core.ChildNotFound(id)
	}
	return nil
}

type earnedRow struct {
	ChildID  string    `db:"child_id"`
	Key      string    `db:"achievement_key"`
	EarnedAt time.Time `db:"earned_at"`
}

func (s *Store) ListEarnedAchievements(ctx context.Context, id core.ChildID) ([]core.EarnedAchievement, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	var rows []earnedRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT child_id, achievement_key, earned_at FROM earned_achievements WHERE child_id = ? ORDER BY seq`), string(id))
	if err != nil {
		return nil, fmt.Errorf("select achievements: %w", err)
	}
	out := make([]core.EarnedAchievement, len(rows))
	for i, r := range rows {
		out[i] = core.EarnedAchievement{ChildID: core.ChildID(r.ChildID), Key: r.Key, EarnedAt: r.EarnedAt.UTC()}
	}
	return out, nil
}

type activityRow struct {
	ChildID          string    `db:"child_id"`
	Day              time.Time `db:"day"`
	LessonsCompleted int       `db:"lessons_completed"`
	StarsEarned      int64     `db:"stars_earned"`
	WordsLearned     int       `db:"words_learned"`
	AnswersRecorded  int       `db:"answers_recorded"`
}

func (s *Store) ListDailyActivity(ctx context.Context, id core.ChildID, from, to time.Time) ([]core.DailyActivity, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	var rows []activityRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT child_id, day, lessons_completed, stars_earned, words_learned, answers_recorded
		FROM daily_activity WHERE child_id = ? AND day >= ? AND day <= ? ORDER BY day`),
		string(id), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	out := make([]core.DailyActivity, len(rows))
	for i, r := range rows {
		out[i] = core.DailyActivity{
			ChildID:          core.ChildID(r.ChildID),
			Day:              r.Day.UTC(),
			LessonsCompleted: r.LessonsCompleted,
			StarsEarned:      r.StarsEarned,
			WordsLearned:     r.WordsLearned,
			AnswersRecorded:  r.AnswersRecorded,
		}
	}
	return out, nil
}

// Update locks the child row, runs fn and commits. Any error rolls back every
// statement fn issued.
func (s *Store) Update(ctx context.Context, id core.ChildID, fn func(tx engine.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var row childRow
	err = tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+childColumns+` FROM children WHERE id = ?`+s.dialect.lockSuffix), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.ChildNotFound(id)
	}
	if err != nil {
		return fmt.Errorf("lock child: %w", err)
	}

	if err = fn(&sqlTx{ctx: ctx, tx: tx, dialect: s.dialect, child: row.child()}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqlTx struct {
	ctx     context.Context
	tx      *sqlx.Tx
	dialect dialect
	child   core.Child
	earned  map[string]struct{}
	// next is the seq of the next inserted achievement
	next int
}

func (t *sqlTx) Child() core.Child { return t.child.Clone() }

func (t *sqlTx) EarnedKeys() (map[string]struct{}, error) {
	if t.earned == nil {
		var keys []string
		err := t.tx.SelectContext(t.ctx, &keys, t.tx.Rebind(
			`SELECT achievement_key FROM earned_achievements WHERE child_id = ?`), string(t.child.ID))
		if err != nil {
			return nil, fmt.Errorf("select earned keys: %w", err)
		}
		t.earned = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			t.earned[k] = struct{}{}
		}
		t.next = len(keys)
	}
	out := make(map[string]struct{}, len(t.earned))
	for k := range t.earned {
		out[k] = struct{}{}
	}
	return out, nil
}

func (t *sqlTx) SaveChild(child core.Child) error {
	child.ID = t.child.ID
	_, err := t.tx.NamedExecContext(t.ctx, `UPDATE children SET
		name = :name, avatar = :avatar, stars = :stars,
		current_streak = :current_streak, longest_streak = :longest_streak,
		last_activity_date = :last_activity_date, total_lessons = :total_lessons,
		total_words_learned = :total_words_learned, perfect_lessons = :perfect_lessons,
		total_answers = :total_answers, correct_answers = :correct_answers,
		gamification_level = :gamification_level, updated_at = :updated_at
		WHERE id = :id`, toRow(child))
	if err != nil {
		return fmt.Errorf("update child: %w", err)
	}
	return nil
}

func (t *sqlTx) InsertAchievementIfAbsent(a core.EarnedAchievement) (bool, error) {
	if _, err := t.EarnedKeys(); err != nil {
		return false, err
	}
	if _, ok := t.earned[a.Key]; ok {
		return false, nil
	}
	res, err := t.tx.ExecContext(t.ctx, t.tx.Rebind(t.dialect.insertEarned), string(t.child.ID), a.Key, a.EarnedAt.UTC(), t.next)
	if err != nil {
		return false, fmt.Errorf("insert achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert achievement: %w", err)
	}
	t.earned[a.Key] = struct{}{}
	if n == 0 {
		return false, nil
	}
	t.next++
	return true, nil
}

func (t *sqlTx) AddDailyActivity(a core.DailyActivity) error {
	_, err := t.tx.ExecContext(t.ctx, t.tx.Rebind(t.dialect.upsertActivity),
		string(t.child.ID), a.Day.UTC(), a.LessonsCompleted, a.StarsEarned, a.WordsLearned, a.AnswersRecorded)
	if err != nil {
		return fmt.Errorf("upsert activity: %w", err)
	}
	return nil
}

var (
	_ engine.Storage     = (*Store)(nil)
	_ engine.ChildLister = (*Store)(nil)
)
