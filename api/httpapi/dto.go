package httpapi

import (
	"time"

	"starkit/core"
	"starkit/engine"
)

// Wire shapes. Field names follow the mobile client's camelCase contract.

type levelJSON struct {
	Number   int    `json:"level"`
	Name     string `json:"name"`
	Emoji    string `json:"emoji,omitempty"`
	MinStars int64  `json:"minStars"`
}

func toLevelJSON(l core.Level) levelJSON {
	return levelJSON{Number: l.Number, Name: l.Name, Emoji: l.Emoji, MinStars: l.MinStars}
}

func optLevel(l *core.Level) *levelJSON {
	if l == nil {
		return nil
	}
	out := toLevelJSON(*l)
	return &out
}

type levelUpJSON struct {
	NewLevel levelJSON `json:"newLevel"`
}

type achievementJSON struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

func toAchievementJSON(d core.AchievementDef) achievementJSON {
	return achievementJSON{Key: d.Key, Name: d.Name, Emoji: d.Emoji, Description: d.Description, Category: string(d.Category)}
}

func toAchievementList(defs []core.AchievementDef) []achievementJSON {
	out := make([]achievementJSON, 0, len(defs))
	for _, d := range defs {
		out = append(out, toAchievementJSON(d))
	}
	return out
}

type badgeJSON struct {
	achievementJSON
	Earned   bool       `json:"earned"`
	EarnedAt *time.Time `json:"earnedAt,omitempty"`
}

type addStarsResponse struct {
	NewTotal  int64      `json:"newTotal"`
	LeveledUp bool       `json:"leveledUp"`
	NewLevel  *levelJSON `json:"newLevel,omitempty"`
}

type answerResponse struct {
	StarsEarned     int64             `json:"starsEarned"`
	NewTotal        int64             `json:"newTotal"`
	LevelUp         *levelUpJSON      `json:"levelUp"`
	NewAchievements []achievementJSON `json:"newAchievements"`
}

type lessonResponse struct {
	StarsEarned     int64             `json:"starsEarned"`
	NewTotal        int64             `json:"newTotal"`
	Streak          core.StreakResult `json:"streak"`
	LevelUp         *levelUpJSON      `json:"levelUp"`
	NewAchievements []achievementJSON `json:"newAchievements"`
}

type activityJSON struct {
	Day              string `json:"day"`
	LessonsCompleted int    `json:"lessonsCompleted"`
	StarsEarned      int64  `json:"starsEarned"`
	WordsLearned     int    `json:"wordsLearned"`
	AnswersRecorded  int    `json:"answersRecorded"`
}

type progressJSON struct {
	ChildID           core.ChildID `json:"childId"`
	Name              string       `json:"name"`
	Avatar            string       `json:"avatar,omitempty"`
	Stars             int64        `json:"stars"`
	Level             levelJSON    `json:"level"`
	NextLevel         *levelJSON   `json:"nextLevel,omitempty"`
	LevelProgress     int          `json:"levelProgress"`
	StarsToNextLevel  int64        `json:"starsToNextLevel"`
	CurrentStreak     int          `json:"currentStreak"`
	LongestStreak     int          `json:"longestStreak"`
	LastActivityDate  string       `json:"lastActivityDate,omitempty"`
	TotalLessons      int          `json:"totalLessons"`
	TotalWordsLearned int          `json:"totalWordsLearned"`
	PerfectLessons    int          `json:"perfectLessons"`
	TotalAnswers      int          `json:"totalAnswers"`
	CorrectAnswers    int          `json:"correctAnswers"`
	Achievements      []string     `json:"achievements"`
}

func toProgressJSON(p engine.Progress) progressJSON {
	out := progressJSON{
		ChildID:           p.ChildID,
		Name:              p.Name,
		Avatar:            p.Avatar,
		Stars:             p.Stars,
		Level:             toLevelJSON(p.Level),
		NextLevel:         optLevel(p.NextLevel),
		LevelProgress:     p.LevelProgress,
		StarsToNextLevel:  p.StarsToNextLevel,
		CurrentStreak:     p.CurrentStreak,
		LongestStreak:     p.LongestStreak,
		TotalLessons:      p.TotalLessons,
		TotalWordsLearned: p.TotalWordsLearned,
		PerfectLessons:    p.PerfectLessons,
		TotalAnswers:      p.TotalAnswers,
		CorrectAnswers:    p.CorrectAnswers,
		Achievements:      p.Achievements,
	}
	if p.LastActivityDate != nil {
		out.LastActivityDate = p.LastActivityDate.Format("2006-01-02")
	}
	return out
}
