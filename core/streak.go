package core

import "time"

// StreakResult is the outcome of applying one day of activity to a streak.
type StreakResult struct {
	Current     int  `json:"current"`
	Longest     int  `json:"longest"`
	IsNewRecord bool `json:"isNewRecord"`
	Broken      bool `json:"wasBroken"`
}

// Day truncates t to its calendar day in loc and returns that date as UTC midnight,
// so two days can be compared and subtracted without zone arithmetic.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole days from a to b, both values produced by Day.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// UpdateStreak applies activity on today to a streak last extended on last.
// Both dates must be calendar days as returned by Day. A second activity on the
// same day leaves the streak untouched. A gap of two or more days, or a last date
// after today, restarts the streak at 1 and marks it broken.
func UpdateStreak(last *time.Time, today time.Time, current, longest int) StreakResult {
	if current < 0 {
		current = 0
	}
	if longest < current {
		longest = current
	}
	if last == nil {
		return finishStreak(1, longest, false)
	}
	switch gap := daysBetween(*last, today); {
	case gap == 0:
		return StreakResult{Current: current, Longest: longest}
	case gap == 1:
		return finishStreak(current+1, longest, false)
	default:
		// gap >= 2, or negative when the stored date is ahead of today
		return finishStreak(1, longest, true)
	}
}

func finishStreak(current, longestBefore int, broken bool) StreakResult {
	res := StreakResult{Current: current, Longest: longestBefore, Broken: broken}
	if current > longestBefore {
		res.Longest = current
		res.IsNewRecord = true
	}
	return res
}
