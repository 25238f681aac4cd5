package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"starkit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(ctx context.Context, e core.Event)
}

// DailyKPIs summarises one calendar day.
type DailyKPIs struct {
	Day                  string         `json:"day"`
	ActiveChildren       int            `json:"activeChildren"`
	StarsAwarded         int64          `json:"starsAwarded"`
	LessonsCompleted     int64          `json:"lessonsCompleted"`
	PerfectLessons       int64          `json:"perfectLessons"`
	WordsLearned         int64          `json:"wordsLearned"`
	AnswersRecorded      int64          `json:"answersRecorded"`
	CorrectAnswers       int64          `json:"correctAnswers"`
	LevelUps             int64          `json:"levelUps"`
	StreaksBroken        int64          `json:"streaksBroken"`
	AchievementsUnlocked int64          `json:"achievementsUnlocked"`
	ByAchievement        map[string]int `json:"byAchievement,omitempty"`
}

type dayBucket struct {
	active map[core.ChildID]struct{}
	kpis   DailyKPIs
}

// Metrics aggregates engagement KPIs from the event stream. Days are
// calendar days in the configured location, the same calendar the ledger
// counts streaks in.
type Metrics struct {
	mu   sync.RWMutex
	loc  *time.Location
	days map[string]*dayBucket

	weeklyActive map[string]map[core.ChildID]struct{}
	levelReached map[int]int
}

func NewMetrics(loc *time.Location) *Metrics {
	if loc == nil {
		loc = time.UTC
	}
	return &Metrics{
		loc:          loc,
		days:         make(map[string]*dayBucket),
		weeklyActive: make(map[string]map[core.ChildID]struct{}),
		levelReached: make(map[int]int),
	}
}

// DayKey formats t as the day bucket it falls into.
func (m *Metrics) DayKey(t time.Time) string {
	return t.In(m.loc).Format("2006-01-02")
}

func (m *Metrics) OnEvent(_ context.Context, e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := m.DayKey(e.Time)
	b := m.days[day]
	if b == nil {
		b = &dayBucket{active: make(map[core.ChildID]struct{}), kpis: DailyKPIs{Day: day}}
		m.days[day] = b
	}

	// registration alone is not activity
	if e.Type != core.EventChildRegistered {
		b.active[e.ChildID] = struct{}{}
		week := getWeekKey(e.Time.In(m.loc))
		if m.weeklyActive[week] == nil {
			m.weeklyActive[week] = make(map[core.ChildID]struct{})
		}
		m.weeklyActive[week][e.ChildID] = struct{}{}
	}

	k := &b.kpis
	switch e.Type {
	case core.EventStarsAdded:
		if e.Delta > 0 {
			k.StarsAwarded += e.Delta
		}
	case core.EventLessonCompleted:
		k.LessonsCompleted++
		if perfect, _ := e.Metadata["is_perfect"].(bool); perfect {
			k.PerfectLessons++
		}
		k.WordsLearned += int64(metaInt(e.Metadata, "words_learned"))
	case core.EventAnswerRecorded:
		k.AnswersRecorded++
		if correct, _ := e.Metadata["is_correct"].(bool); correct {
			k.CorrectAnswers++
		}
	case core.EventLevelUp:
		k.LevelUps++
		m.levelReached[e.Level]++
	case core.EventStreakBroken:
		k.StreaksBroken++
	case core.EventAchievementUnlocked:
		k.AchievementsUnlocked++
		if k.ByAchievement == nil {
			k.ByAchievement = make(map[string]int)
		}
		k.ByAchievement[e.Achievement]++
	}
}

// Daily returns the KPIs for a day key (YYYY-MM-DD).
func (m *Metrics) Daily(day string) DailyKPIs {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.days[day]
	if !ok {
		return DailyKPIs{Day: day}
	}
	out := b.kpis
	out.ActiveChildren = len(b.active)
	if b.kpis.ByAchievement != nil {
		out.ByAchievement = make(map[string]int, len(b.kpis.ByAchievement))
		for k, v := range b.kpis.ByAchievement {
			out.ByAchievement[k] = v
		}
	}
	return out
}

// GetDailyActiveChildren returns the count of children active on a day.
func (m *Metrics) GetDailyActiveChildren(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.days[day]; ok {
		return len(b.active)
	}
	return 0
}

// GetWeeklyActiveChildren takes an ISO week key such as 2024-W09.
func (m *Metrics) GetWeeklyActiveChildren(week string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.weeklyActive[week])
}

// LevelUpsTo counts level-ups that reached level n.
func (m *Metrics) LevelUpsTo(n int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levelReached[n]
}

func getWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// metaInt reads a numeric metadata value. Events that travelled through JSON
// carry float64.
func metaInt(md map[string]any, key string) int {
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
