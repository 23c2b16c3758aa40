package detector

import (
	"math"
	"time"

	"github.com/ironwillhq/ironwill/internal/checkin"
)

// DaysSince counts whole calendar days between two instants in the user's
// local timezone, so a check-in at 23:50 followed by a scan at 00:10 still
// counts as one day, not zero or two.
func DaysSince(lastCheckin, today time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.Local
	}
	from := checkin.DateOnly(lastCheckin.In(loc))
	to := checkin.DateOnly(today.In(loc))
	return int(math.Round(to.Sub(from).Hours() / 24))
}

// DetectAbsence maps elapsed days since the last check-in to the ghosting
// escalation tier. One missed day is a grace period handled by reminder
// mechanics, so nothing fires below two days. Emergency is terminal: the
// severity stops escalating however long the silence grows.
func DetectAbsence(lastCheckin, today time.Time, user checkin.UserContext) *Pattern {
	if lastCheckin.IsZero() {
		return nil
	}

	days := DaysSince(lastCheckin, today, user.Location())
	if days < 2 {
		return nil
	}

	var severity Severity
	switch days {
	case 2:
		severity = SeverityNudge
	case 3:
		severity = SeverityWarning
	case 4:
		severity = SeverityCritical
	default:
		severity = SeverityEmergency
	}

	return &Pattern{
		Type:       TypeAbsence,
		Severity:   severity,
		DetectedAt: today,
		Evidence: map[string]any{
			"daysMissing":     days,
			"lastCheckinDate": checkin.DayKey(checkin.DateOnly(lastCheckin.In(user.Location()))),
			"previousStreak":  user.CurrentStreak,
			"currentMode":     user.Mode,
		},
	}
}
