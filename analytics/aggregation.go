package analytics

import (
	"context"
	"time"

	"starkit/core"
)

// RangeKPIs totals DailyKPIs over an inclusive day range.
type RangeKPIs struct {
	From                 string `json:"from"`
	To                   string `json:"to"`
	ActiveChildren       int    `json:"activeChildren"`
	StarsAwarded         int64  `json:"starsAwarded"`
	LessonsCompleted     int64  `json:"lessonsCompleted"`
	PerfectLessons       int64  `json:"perfectLessons"`
	WordsLearned         int64  `json:"wordsLearned"`
	AnswersRecorded      int64  `json:"answersRecorded"`
	CorrectAnswers       int64  `json:"correctAnswers"`
	LevelUps             int64  `json:"levelUps"`
	StreaksBroken        int64  `json:"streaksBroken"`
	AchievementsUnlocked int64  `json:"achievementsUnlocked"`
}

// Summary aggregates every day key between from and to inclusive.
// ActiveChildren counts distinct children across the whole range.
func (m *Metrics) Summary(from, to string) RangeKPIs {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := RangeKPIs{From: from, To: to}
	active := make(map[core.ChildID]struct{})
	for key, b := range m.days {
		if key < out.From || key > out.To {
			continue
		}
		for id := range b.active {
			active[id] = struct{}{}
		}
		k := b.kpis
		out.StarsAwarded += k.StarsAwarded
		out.LessonsCompleted += k.LessonsCompleted
		out.PerfectLessons += k.PerfectLessons
		out.WordsLearned += k.WordsLearned
		out.AnswersRecorded += k.AnswersRecorded
		out.CorrectAnswers += k.CorrectAnswers
		out.LevelUps += k.LevelUps
		out.StreaksBroken += k.StreaksBroken
		out.AchievementsUnlocked += k.AchievementsUnlocked
	}
	out.ActiveChildren = len(active)
	return out
}

// Prune drops day buckets older than before and returns how many went.
func (m *Metrics) Prune(before time.Time) int {
	cutoff := m.DayKey(before)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.days {
		if key < cutoff {
			delete(m.days, key)
			n++
		}
	}
	cutoffWeek := getWeekKey(before.In(m.loc))
	for key := range m.weeklyActive {
		if key < cutoffWeek {
			delete(m.weeklyActive, key)
		}
	}
	return n
}

// Start prunes buckets older than retention every interval until ctx is done.
func (m *Metrics) Start(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.Prune(now.Add(-retention))
			}
		}
	}()
}
