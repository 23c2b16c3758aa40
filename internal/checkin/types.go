package checkin

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one user's structured self-report for a single calendar day.
// Optional hour fields are nil when the user only answered the yes/no form.
type Record struct {
	UserID             string    `json:"userId"`
	Date               time.Time `json:"date"`
	SleepOK            bool      `json:"sleepOk"`
	SleepHours         *float64  `json:"sleepHours,omitempty"`
	TrainingOK         bool      `json:"trainingOk"`
	DeepWorkOK         bool      `json:"deepWorkOk"`
	DeepWorkHours      *float64  `json:"deepWorkHours,omitempty"`
	SkillBuildingOK    bool      `json:"skillBuildingOk"`
	SkillBuildingHours *float64  `json:"skillBuildingHours,omitempty"`
	ZeroViolationOK    bool      `json:"zeroViolationOk"`
	BoundariesOK       bool      `json:"boundariesOk"`
	ComplianceScore    float64   `json:"complianceScore"`
	WakeTime           string    `json:"wakeTime,omitempty"`
	ConsumptionHours   *float64  `json:"consumptionHours,omitempty"`
}

// UserContext is the read-only profile consumed for message personalization.
type UserContext struct {
	UserID           string    `json:"userId"`
	CurrentStreak    int       `json:"currentStreak"`
	LongestStreak    int       `json:"longestStreak"`
	Mode             string    `json:"mode"`
	PartnerName      string    `json:"partnerName,omitempty"`
	ShieldsAvailable int       `json:"shieldsAvailable"`
	Timezone         string    `json:"timezone,omitempty"`
	LastCheckin      time.Time `json:"lastCheckin"`
	Channel          string    `json:"channel,omitempty"`
	ChatID           string    `json:"chatId,omitempty"`
}

// Location resolves the user's IANA timezone, falling back to local time.
func (u UserContext) Location() *time.Location {
	if u.Timezone != "" {
		if loc, err := time.LoadLocation(u.Timezone); err == nil {
			return loc
		}
	}
	return time.Local
}

// DateOnly truncates t to its calendar day in t's location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DayKey formats a calendar day as YYYY-MM-DD for storage keys.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseWakeTime converts an "HH:MM" string to minutes past midnight.
func ParseWakeTime(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("wake time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("wake time %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("wake time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("wake time %q out of range", s)
	}
	return h*60 + m, nil
}

// ComplianceScore derives the 0-100 completion percentage from the six
// tracked booleans. Used when the caller did not supply a score.
func ComplianceScore(r Record) float64 {
	done := 0
	for _, ok := range []bool{r.SleepOK, r.TrainingOK, r.DeepWorkOK, r.SkillBuildingOK, r.ZeroViolationOK, r.BoundariesOK} {
		if ok {
			done++
		}
	}
	return float64(done) / 6.0 * 100.0
}
