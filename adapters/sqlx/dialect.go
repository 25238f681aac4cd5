package sqlx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Driver names a supported database/sql driver.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite3"
)

// dialect carries the statements that differ between databases.
type dialect struct {
	// lockSuffix is appended to the child SELECT inside Update.
	lockSuffix     string
	insertEarned   string
	upsertActivity string
	schema         []string
}

func dialectFor(d Driver) (dialect, error) {
	switch d {
	case DriverPostgres:
		return dialect{
			lockSuffix:     " FOR UPDATE",
			insertEarned:   insertEarnedBase + " ON CONFLICT (child_id, achievement_key) DO NOTHING",
			upsertActivity: insertActivityBase + " ON CONFLICT (child_id, day) DO UPDATE SET " + excludedIncrements("excluded"),
			schema:         schema("TEXT", "TIMESTAMPTZ"),
		}, nil
	case DriverMySQL:
		return dialect{
			lockSuffix:     " FOR UPDATE",
			insertEarned:   strings.Replace(insertEarnedBase, "INSERT INTO", "INSERT IGNORE INTO", 1),
			upsertActivity: insertActivityBase + " ON DUPLICATE KEY UPDATE " + mysqlIncrements(),
			schema:         schema("VARCHAR(191)", "DATETIME(6)"),
		}, nil
	case DriverSQLite:
		// SQLite has no row locks; the DSN opens transactions with BEGIN IMMEDIATE.
		return dialect{
			insertEarned:   insertEarnedBase + " ON CONFLICT (child_id, achievement_key) DO NOTHING",
			upsertActivity: insertActivityBase + " ON CONFLICT (child_id, day) DO UPDATE SET " + excludedIncrements("excluded"),
			schema:         schema("TEXT", "TIMESTAMP"),
		}, nil
	}
	return dialect{}, fmt.Errorf("unsupported sql driver %q", d)
}

const insertEarnedBase = `INSERT INTO earned_achievements (child_id, achievement_key, earned_at, seq) VALUES (?, ?, ?, ?)`

const insertActivityBase = `INSERT INTO daily_activity (child_id, day, lessons_completed, stars_earned, words_learned, answers_recorded) VALUES (?, ?, ?, ?, ?, ?)`

var activityCounters = []string{"lessons_completed", "stars_earned", "words_learned", "answers_recorded"}

func excludedIncrements(alias string) string {
	parts := make([]string, len(activityCounters))
	for i, c := range activityCounters {
		parts[i] = fmt.Sprintf("%s = daily_activity.%s + %s.%s", c, c, alias, c)
	}
	return strings.Join(parts, ", ")
}

func mysqlIncrements() string {
	parts := make([]string, len(activityCounters))
	for i, c := range activityCounters {
		parts[i] = fmt.Sprintf("%s = %s + VALUES(%s)", c, c, c)
	}
	return strings.Join(parts, ", ")
}

func schema(key, ts string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS children (
			id ` + key + ` PRIMARY KEY,
			name ` + key + ` NOT NULL,
			avatar ` + key + ` NOT NULL,
			stars BIGINT NOT NULL DEFAULT 0,
			current_streak INTEGER NOT NULL DEFAULT 0,
			longest_streak INTEGER NOT NULL DEFAULT 0,
			last_activity_date ` + ts + ` NULL,
			total_lessons INTEGER NOT NULL DEFAULT 0,
			total_words_learned INTEGER NOT NULL DEFAULT 0,
			perfect_lessons INTEGER NOT NULL DEFAULT 0,
			total_answers INTEGER NOT NULL DEFAULT 0,
			correct_answers INTEGER NOT NULL DEFAULT 0,
			gamification_level INTEGER NOT NULL DEFAULT 1,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS earned_achievements (
			child_id ` + key + ` NOT NULL,
			achievement_key ` + key + ` NOT NULL,
			earned_at ` + ts + ` NOT NULL,
			seq INTEGER NOT NULL,
			PRIMARY KEY (child_id, achievement_key)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_activity (
			child_id ` + key + ` NOT NULL,
			day ` + ts + ` NOT NULL,
			lessons_completed INTEGER NOT NULL DEFAULT 0,
			stars_earned BIGINT NOT NULL DEFAULT 0,
			words_learned INTEGER NOT NULL DEFAULT 0,
			answers_recorded INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (child_id, day)
		)`,
	}
}

// prepareDSN applies the driver options the store depends on.
func prepareDSN(d Driver, dsn string) (string, error) {
	switch d {
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case DriverSQLite:
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		if !strings.Contains(dsn, "_txlock=") {
			dsn += sep + "_txlock=immediate"
			sep = "&"
		}
		if !strings.Contains(dsn, "_busy_timeout=") {
			dsn += sep + "_busy_timeout=5000"
		}
		return dsn, nil
	}
	return dsn, nil
}

// isUniqueViolation recognises duplicate-key errors from each driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
