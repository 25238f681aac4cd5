package core

import "fmt"

// Catalog bundles the static rule data the ledger is configured with.
// It is loaded once at start-up and treated as immutable afterwards.
type Catalog struct {
	Levels       LevelTable     `json:"levels" yaml:"levels"`
	Achievements AchievementSet `json:"achievements" yaml:"achievements"`
	Rewards      RewardTable    `json:"rewards" yaml:"rewards"`
}

// Validate checks every part of the catalogue.
func (c Catalog) Validate() error {
	if err := c.Levels.Validate(); err != nil {
		return fmt.Errorf("levels: %w", err)
	}
	if err := c.Achievements.Validate(); err != nil {
		return fmt.Errorf("achievements: %w", err)
	}
	if err := c.Rewards.Validate(); err != nil {
		return fmt.Errorf("rewards: %w", err)
	}
	return nil
}
