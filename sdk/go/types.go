package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Level mirrors a level entry on the wire.
type Level struct {
	Number   int    `json:"level"`
	Name     string `json:"name"`
	Emoji    string `json:"emoji,omitempty"`
	MinStars int64  `json:"minStars"`
}

// Achievement mirrors an achievement definition on the wire.
type Achievement struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// Badge is an achievement annotated with the child's unlock state.
type Badge struct {
	Achievement
	Earned   bool       `json:"earned"`
	EarnedAt *time.Time `json:"earnedAt,omitempty"`
}

// Progress mirrors GET /children/{id}/progress.
type Progress struct {
	ChildID           string   `json:"childId"`
	Name              string   `json:"name"`
	Avatar            string   `json:"avatar,omitempty"`
	Stars             int64    `json:"stars"`
	Level             Level    `json:"level"`
	NextLevel         *Level   `json:"nextLevel,omitempty"`
	LevelProgress     int      `json:"levelProgress"`
	StarsToNextLevel  int64    `json:"starsToNextLevel"`
	CurrentStreak     int      `json:"currentStreak"`
	LongestStreak     int      `json:"longestStreak"`
	LastActivityDate  string   `json:"lastActivityDate,omitempty"`
	TotalLessons      int      `json:"totalLessons"`
	TotalWordsLearned int      `json:"totalWordsLearned"`
	PerfectLessons    int      `json:"perfectLessons"`
	TotalAnswers      int      `json:"totalAnswers"`
	CorrectAnswers    int      `json:"correctAnswers"`
	Achievements      []string `json:"achievements"`
}

// LevelUp is present in a result when the child reached a new level.
type LevelUp struct {
	NewLevel Level `json:"newLevel"`
}

// AddStarsResult mirrors POST /children/{id}/stars.
type AddStarsResult struct {
	NewTotal  int64  `json:"newTotal"`
	LeveledUp bool   `json:"leveledUp"`
	NewLevel  *Level `json:"newLevel,omitempty"`
}

// AnswerResult mirrors POST /children/{id}/answers.
type AnswerResult struct {
	StarsEarned     int64         `json:"starsEarned"`
	NewTotal        int64         `json:"newTotal"`
	LevelUp         *LevelUp      `json:"levelUp"`
	NewAchievements []Achievement `json:"newAchievements"`
}

// Streak reports the streak after a lesson.
type Streak struct {
	Current     int  `json:"current"`
	Longest     int  `json:"longest"`
	IsNewRecord bool `json:"isNewRecord"`
	WasBroken   bool `json:"wasBroken"`
}

// Lesson is the body of POST /children/{id}/lessons.
type Lesson struct {
	WordsLearned   int  `json:"wordsLearned"`
	CorrectAnswers int  `json:"correctAnswers"`
	TotalAnswers   int  `json:"totalAnswers"`
	IsPerfect      bool `json:"isPerfect"`
}

// LessonResult mirrors POST /children/{id}/lessons.
type LessonResult struct {
	StarsEarned     int64         `json:"starsEarned"`
	NewTotal        int64         `json:"newTotal"`
	Streak          Streak        `json:"streak"`
	LevelUp         *LevelUp      `json:"levelUp"`
	NewAchievements []Achievement `json:"newAchievements"`
}

// ActivityDay is one row of GET /children/{id}/activity.
type ActivityDay struct {
	Day              string `json:"day"`
	LessonsCompleted int    `json:"lessonsCompleted"`
	StarsEarned      int64  `json:"starsEarned"`
	WordsLearned     int    `json:"wordsLearned"`
	AnswersRecorded  int    `json:"answersRecorded"`
}

// LeaderboardEntry is one row of GET /leaderboard.
type LeaderboardEntry struct {
	ChildID string `json:"childId"`
	Stars   int64  `json:"stars"`
}

// Event is a domain event received over the WebSocket stream.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Time        time.Time      `json:"time"`
	ChildID     string         `json:"child_id"`
	Delta       int64          `json:"delta,omitempty"`
	Total       int64          `json:"total,omitempty"`
	Level       int            `json:"level,omitempty"`
	LevelName   string         `json:"level_name,omitempty"`
	Achievement string         `json:"achievement,omitempty"`
	Streak      int            `json:"streak,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("starkit: %d %s: %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusTooManyRequests
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyChildID is returned when child id is empty.
var ErrEmptyChildID = errors.New("child id is required")
