package domain

import "time"

type ViolationCategory string

const (
	ViolationSpeed        ViolationCategory = "SPEED"
	ViolationHarshBraking ViolationCategory = "HARSH_BRAKING"
	ViolationNightDriving ViolationCategory = "NIGHT_DRIVING"
	ViolationRoute        ViolationCategory = "ROUTE"
	ViolationOther        ViolationCategory = "OTHER"
)

var ViolationCategories = []ViolationCategory{
	ViolationSpeed,
	ViolationHarshBraking,
	ViolationNightDriving,
	ViolationRoute,
	ViolationOther,
}

type Level string

const (
	LevelGold     Level = "Gold"
	LevelSilver   Level = "Silver"
	LevelBronze   Level = "Bronze"
	LevelCritical Level = "Critical"
)

const (
	MaxPoints = 100
	MinPoints = 0
)

// LevelFor maps points to their band: Gold 80-100, Silver 60-79,
// Bronze 40-59, Critical 0-39.
func LevelFor(points int) Level {
	switch {
	case points >= 80:
		return LevelGold
	case points >= 60:
		return LevelSilver
	case points >= 40:
		return LevelBronze
	default:
		return LevelCritical
	}
}

// DriverScore is a point-in-time copy of a driver's scoring state.
type DriverScore struct {
	DriverName        string
	CurrentPoints     int
	Level             Level
	Counts            map[ViolationCategory]int
	ThresholdExceeded map[ViolationCategory]bool
	UpdatedAt         time.Time
}
