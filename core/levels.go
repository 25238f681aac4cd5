package core

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
)

// Level is a named tier unlocked at a cumulative star threshold.
type Level struct {
	Number   int    `json:"level" yaml:"level"`
	MinStars int64  `json:"min_stars" yaml:"min_stars"`
	Name     string `json:"name" yaml:"name"`
	Emoji    string `json:"emoji,omitempty" yaml:"emoji"`
}

// LevelTable is an ordered list of levels. Thresholds start at 0 and strictly increase.
type LevelTable []Level

// NewLevelTable numbers the given levels from 1 in order and validates the result.
func NewLevelTable(levels ...Level) (LevelTable, error) {
	t := make(LevelTable, len(levels))
	for i, l := range levels {
		l.Number = i + 1
		t[i] = l
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the table invariants.
func (t LevelTable) Validate() error {
	if len(t) == 0 {
		return errors.New("level table is empty")
	}
	if t[0].MinStars != 0 {
		return fmt.Errorf("first level must start at 0 stars, got %d", t[0].MinStars)
	}
	for i, l := range t {
		if l.Number != i+1 {
			return fmt.Errorf("level %q: number %d, want %d", l.Name, l.Number, i+1)
		}
		if l.Name == "" {
			return fmt.Errorf("level %d has no name", l.Number)
		}
		if i > 0 && l.MinStars <= t[i-1].MinStars {
			return fmt.Errorf("level %d threshold %d is not above level %d threshold %d", l.Number, l.MinStars, t[i-1].Number, t[i-1].MinStars)
		}
	}
	return nil
}

// ForStars returns the highest level whose threshold is at most stars.
func (t LevelTable) ForStars(stars int64) Level {
	if len(t) == 0 {
		return Level{}
	}
	// first index whose threshold exceeds stars
	i := sort.Search(len(t), func(i int) bool { return t[i].MinStars > stars })
	if i == 0 {
		return t[0]
	}
	return t[i-1]
}

// Next returns the level directly above number, or false at the top tier.
func (t LevelTable) Next(number int) (Level, bool) {
	if number < 0 || number >= len(t) {
		return Level{}, false
	}
	return t[number], true
}

// Max returns the top tier.
func (t LevelTable) Max() Level {
	if len(t) == 0 {
		return Level{}
	}
	return t[len(t)-1]
}

// Progress reports how far stars are from the current level to the next one.
// At the top tier it returns (100, 0).
func (t LevelTable) Progress(stars int64) (percent int, starsToNext int64) {
	cur := t.ForStars(stars)
	next, ok := t.Next(cur.Number)
	if !ok {
		return 100, 0
	}
	if stars < cur.MinStars {
		stars = cur.MinStars
	}
	// done < span, so the 128-bit quotient always fits and lies in [0, 100)
	done, span := uint64(stars-cur.MinStars), uint64(next.MinStars-cur.MinStars)
	hi, lo := bits.Mul64(done, 100)
	q, _ := bits.Div64(hi, lo, span)
	return int(q), next.MinStars - stars
}
