package monster

import "fmt"

const (
	MinLevel = 1
	MaxLevel = 20

	// TimeStampLayout is the layout of Monster.TimeStamp.
	TimeStampLayout = "2006-01-02 15:04:05"
)

// Monster is one stored record.
type Monster struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Level     int     `json:"level"`
	Rarity    string  `json:"rarity"`
	Damage    string  `json:"damage"`
	Health    float64 `json:"health"`
	Energy    float64 `json:"energy"`
	Sanity    float64 `json:"sanity"`
	TimeStamp string  `json:"time_stamp"`
}

// Query selects monsters by the fields that are set. An empty Query matches
// every monster; as an update patch it changes nothing.
type Query struct {
	Name      *string  `json:"name,omitempty"`
	Type      *string  `json:"type,omitempty"`
	Level     *int     `json:"level,omitempty"`
	Rarity    *string  `json:"rarity,omitempty"`
	Damage    *string  `json:"damage,omitempty"`
	Health    *float64 `json:"health,omitempty"`
	Energy    *float64 `json:"energy,omitempty"`
	Sanity    *float64 `json:"sanity,omitempty"`
	TimeStamp *string  `json:"time_stamp,omitempty"`
}

// LevelRangeError reports a level outside [MinLevel, MaxLevel].
type LevelRangeError struct {
	Level int
}

func (e *LevelRangeError) Error() string {
	return fmt.Sprintf("Level: %d, outside acceptable range[%d, %d]", e.Level, MinLevel, MaxLevel)
}

// ValidateLevel returns a *LevelRangeError when level is out of range.
func ValidateLevel(level int) error {
	if level < MinLevel || level > MaxLevel {
		return &LevelRangeError{Level: level}
	}
	return nil
}

// Validate checks the level range.
func (m Monster) Validate() error {
	return ValidateLevel(m.Level)
}

// Features returns the numeric columns the rarity model is trained on.
func (m Monster) Features() map[string]float64 {
	return map[string]float64{
		"level":  float64(m.Level),
		"health": m.Health,
		"energy": m.Energy,
		"sanity": m.Sanity,
	}
}

// Labels returns the categorical columns.
func (m Monster) Labels() map[string]string {
	return map[string]string{
		"name":       m.Name,
		"type":       m.Type,
		"rarity":     m.Rarity,
		"damage":     m.Damage,
		"time_stamp": m.TimeStamp,
	}
}
