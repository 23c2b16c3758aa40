package escalate

import (
	"fmt"
	"strings"

	"github.com/ironwillhq/ironwill/internal/checkin"
	"github.com/ironwillhq/ironwill/internal/detector"
)

// FallbackMessage is the deterministic template for a pattern. Every pattern
// type has a branch here; the switch is exhaustive over detector.Type so a
// new type without a template fails review, not runtime.
func FallbackMessage(p detector.Pattern, user checkin.UserContext) string {
	switch p.Type {
	case detector.TypeSleepDegradation:
		return fmt.Sprintf(
			"HIGH: Sleep is degrading. You averaged %.1f hours over the last 3 nights, under the %.0f-hour floor. "+
				"Everything else slips from here. Action: lights out by 22:30 tonight, phone outside the bedroom.",
			evFloat(p, "avgSleepHours"), evFloat(p, "threshold"))

	case detector.TypeTrainingAbandonment:
		return fmt.Sprintf(
			"MEDIUM: Training has been skipped %d days in a row. The habit is breaking, not resting. "+
				"Action: one full session within the next 24 hours, even a short one.",
			evInt(p, "daysMissed"))

	case detector.TypeRelapsePattern:
		return fmt.Sprintf(
			"CRITICAL: %d violations in the last %d days. This is a relapse pattern, not a bad day. "+
				"Action: remove the trigger from reach tonight and check in tomorrow morning before 09:00.",
			evInt(p, "violationsCount"), evInt(p, "windowDays"))

	case detector.TypeComplianceDecline:
		return fmt.Sprintf(
			"MEDIUM: Compliance averaged %.1f%% over the last 3 days, below the 70%% line. "+
				"Action: tomorrow, clear every tier-1 item before noon and report back.",
			evFloat(p, "avgCompliance"))

	case detector.TypeDeepWorkCollapse:
		return fmt.Sprintf(
			"CRITICAL: Deep work has collapsed to %.1f hours per day against a %.1f-hour target. "+
				"Action: block 09:00-11:00 tomorrow, no inputs, one task.",
			evFloat(p, "avgDeepWorkHours"), evFloat(p, "targetHours"))

	case detector.TypeSnoozeTrap:
		return fmt.Sprintf(
			"WARNING: You are waking %.0f minutes past your %s target on average. The snooze button is winning. "+
				"Action: alarm across the room tonight, feet on the floor at %s tomorrow.",
			evFloat(p, "avgSnoozeMinutes"), evString(p, "targetWake"), evString(p, "targetWake"))

	case detector.TypeConsumptionVortex:
		return fmt.Sprintf(
			"WARNING: %d of the last 7 days went over 3 hours of consumption, averaging %.1f hours. "+
				"Action: hard cap at 1 hour tomorrow; uninstall the worst app for 48 hours.",
			evInt(p, "daysOver"), evFloat(p, "avgConsumptionHours"))

	case detector.TypeRelationshipInterference:
		return fmt.Sprintf(
			"CRITICAL: On %.0f%% of your recent boundary-violation days, sleep or training broke too (%d of %d days). "+
				"These are not separate problems. Action: tonight, name the boundary out loud and set a hard stop time for it.",
			evFloat(p, "correlationPct"), evInt(p, "interferenceDays"), evInt(p, "boundaryViolationDays"))

	case detector.TypeAbsence:
		return renderAbsence(p, user)
	}
	// unreachable for the closed type set
	return fmt.Sprintf("%s: pattern %s detected.", strings.ToUpper(string(p.Severity)), p.Type)
}

// renderAbsence is the fully deterministic ghosting message, one shape per
// tier. Critical references the historical cost of going dark; emergency
// appends the shield and partner clauses independently when they apply.
func renderAbsence(p detector.Pattern, user checkin.UserContext) string {
	days := evInt(p, "daysMissing")
	streak := evInt(p, "previousStreak")

	switch p.Severity {
	case detector.SeverityNudge:
		return fmt.Sprintf(
			"NUDGE: %d days without a check-in. Your %d-day streak is still standing, barely. "+
				"Check in today and nothing is lost.",
			days, streak)

	case detector.SeverityWarning:
		return fmt.Sprintf(
			"WARNING: %d days dark. A %d-day streak does not survive silence much longer. "+
				"Check in today, even a rough one counts.",
			days, streak)

	case detector.SeverityCritical:
		return fmt.Sprintf(
			"CRITICAL: %d days missing. Last time you went quiet like this it ended a streak you had spent weeks building; "+
				"the %d days you have now will go the same way. Check in right now, before midnight.",
			days, streak)

	case detector.SeverityEmergency:
		msg := fmt.Sprintf(
			"EMERGENCY: %d days gone. Your %d-day streak is at the point of no return. "+
				"Check in immediately, today, whatever state you are in.",
			days, streak)
		if user.ShieldsAvailable > 0 {
			msg += fmt.Sprintf(" You still have %d streak shield(s) available; use one today and the streak survives.",
				user.ShieldsAvailable)
		}
		if user.PartnerName != "" {
			msg += fmt.Sprintf(" I am notifying %s that you have gone dark.", user.PartnerName)
		}
		return msg
	}
	// absence patterns only carry the four tiers above
	return fmt.Sprintf("%d days without a check-in. Check in today.", days)
}

// Evidence values arrive as native Go numbers in-process but as float64
// after a JSON round trip; the accessors tolerate both.

func evFloat(p detector.Pattern, key string) float64 {
	switch v := p.Evidence[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func evInt(p detector.Pattern, key string) int {
	switch v := p.Evidence[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func evString(p detector.Pattern, key string) string {
	if v, ok := p.Evidence[key].(string); ok {
		return v
	}
	return ""
}
