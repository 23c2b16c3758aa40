package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/ironwillhq/ironwill/internal/checkin"
)

// DefaultTargetWake is the wake-up target the snooze rule measures against.
const DefaultTargetWake = "06:30"

// Estimate defaults when a check-in only carries the boolean answer.
const (
	sleepHoursIfOK      = 7.5
	sleepHoursIfMissed  = 5.5
	deepWorkHoursIfOK   = 2.5
	deepWorkHoursIfMiss = 1.0
)

// Detect runs every window/threshold rule plus the correlation rule over
// records, which must be sorted oldest to newest and belong to one user.
// It is deterministic: identical (records, today) yields the identical
// pattern set, with DetectedAt taken from today rather than the wall clock.
// An empty record list is a caller bug and returns an error; a list shorter
// than a rule's window simply means that rule does not fire.
func Detect(records []checkin.Record, today time.Time) ([]Pattern, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("detect: no records")
	}

	rules := []func([]checkin.Record, time.Time) *Pattern{
		detectSleepDegradation,
		detectTrainingAbandonment,
		detectRelapsePattern,
		detectComplianceDecline,
		detectDeepWorkCollapse,
		detectSnoozeTrap,
		detectConsumptionVortex,
		detectRelationshipInterference,
	}

	var out []Pattern
	for _, rule := range rules {
		if p := rule(records, today); p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

// lastN returns the most recent n records, or nil when fewer exist.
func lastN(records []checkin.Record, n int) []checkin.Record {
	if len(records) < n {
		return nil
	}
	return records[len(records)-n:]
}

func estimateSleepHours(r checkin.Record) float64 {
	if r.SleepHours != nil {
		return *r.SleepHours
	}
	if r.SleepOK {
		return sleepHoursIfOK
	}
	return sleepHoursIfMissed
}

func estimateDeepWorkHours(r checkin.Record) float64 {
	if r.DeepWorkHours != nil {
		return *r.DeepWorkHours
	}
	if r.DeepWorkOK {
		return deepWorkHoursIfOK
	}
	return deepWorkHoursIfMiss
}

// detectSleepDegradation fires when all of the last 3 days estimate below
// 6 hours of sleep.
func detectSleepDegradation(records []checkin.Record, today time.Time) *Pattern {
	window := lastN(records, 3)
	if window == nil {
		return nil
	}

	total := 0.0
	dates := make([]string, 0, len(window))
	for _, r := range window {
		hours := estimateSleepHours(r)
		if hours >= 6.0 {
			return nil
		}
		total += hours
		dates = append(dates, checkin.DayKey(r.Date))
	}

	avg := round1(total / float64(len(window)))
	return &Pattern{
		Type:       TypeSleepDegradation,
		Severity:   SeverityHigh,
		DetectedAt: today,
		Evidence: map[string]any{
			"avgSleepHours": avg,
			"threshold":     6.0,
			"dates":         dates,
			"summary":       fmt.Sprintf("averaged %.1fh sleep over the last %d days (threshold 6.0h)", avg, len(window)),
		},
	}
}

// detectTrainingAbandonment fires on 3 consecutive skipped training days.
func detectTrainingAbandonment(records []checkin.Record, today time.Time) *Pattern {
	window := lastN(records, 3)
	if window == nil {
		return nil
	}

	dates := make([]string, 0, len(window))
	for _, r := range window {
		if r.TrainingOK {
			return nil
		}
		dates = append(dates, checkin.DayKey(r.Date))
	}

	return &Pattern{
		Type:       TypeTrainingAbandonment,
		Severity:   SeverityMedium,
		DetectedAt: today,
		Evidence: map[string]any{
			"daysMissed": len(window),
			"dates":      dates,
			"summary":    fmt.Sprintf("training skipped %d days in a row", len(window)),
		},
	}
}

// detectRelapsePattern fires on 3+ zero-violation failures inside the last
// week (or the whole history when shorter).
func detectRelapsePattern(records []checkin.Record, today time.Time) *Pattern {
	size := len(records)
	if size > 7 {
		size = 7
	}
	window := records[len(records)-size:]

	var dates []string
	for _, r := range window {
		if !r.ZeroViolationOK {
			dates = append(dates, checkin.DayKey(r.Date))
		}
	}
	if len(dates) < 3 {
		return nil
	}

	return &Pattern{
		Type:       TypeRelapsePattern,
		Severity:   SeverityCritical,
		DetectedAt: today,
		Evidence: map[string]any{
			"violationsCount": len(dates),
			"windowDays":      size,
			"dates":           dates,
			"summary":         fmt.Sprintf("%d violations in the last %d days", len(dates), size),
		},
	}
}

// detectComplianceDecline fires when the last 3 scores are all below 70.
func detectComplianceDecline(records []checkin.Record, today time.Time) *Pattern {
	window := lastN(records, 3)
	if window == nil {
		return nil
	}

	total := 0.0
	scores := make([]float64, 0, len(window))
	dates := make([]string, 0, len(window))
	for _, r := range window {
		if r.ComplianceScore >= 70 {
			return nil
		}
		total += r.ComplianceScore
		scores = append(scores, r.ComplianceScore)
		dates = append(dates, checkin.DayKey(r.Date))
	}

	avg := round1(total / float64(len(window)))
	return &Pattern{
		Type:       TypeComplianceDecline,
		Severity:   SeverityMedium,
		DetectedAt: today,
		Evidence: map[string]any{
			"avgCompliance": avg,
			"scores":        scores,
			"dates":         dates,
			"summary":       fmt.Sprintf("compliance averaged %.1f%% over the last %d days", avg, len(window)),
		},
	}
}

// detectDeepWorkCollapse fires when every one of the last 5 days estimates
// under 1.5 hours of deep work.
func detectDeepWorkCollapse(records []checkin.Record, today time.Time) *Pattern {
	window := lastN(records, 5)
	if window == nil {
		return nil
	}

	total := 0.0
	low := 0
	dates := make([]string, 0, len(window))
	for _, r := range window {
		hours := estimateDeepWorkHours(r)
		total += hours
		if hours < 1.5 {
			low++
			dates = append(dates, checkin.DayKey(r.Date))
		}
	}
	if low < 5 {
		return nil
	}

	avg := round1(total / float64(len(window)))
	return &Pattern{
		Type:       TypeDeepWorkCollapse,
		Severity:   SeverityCritical,
		DetectedAt: today,
		Evidence: map[string]any{
			"avgDeepWorkHours": avg,
			"targetHours":      2.0,
			"lowDays":          low,
			"dates":            dates,
			"summary":          fmt.Sprintf("deep work averaged %.1fh over %d days (target 2.0h)", avg, len(window)),
		},
	}
}

// detectSnoozeTrap measures wake times against the target. Days without
// wake-time metadata (or with unparseable values) are skipped; the rule needs
// 3 valid days, all more than 30 minutes late.
func detectSnoozeTrap(records []checkin.Record, today time.Time) *Pattern {
	window := lastN(records, 3)
	if window == nil {
		return nil
	}

	target, err := checkin.ParseWakeTime(DefaultTargetWake)
	if err != nil {
		return nil
	}

	type snoozeDay struct {
		date    string
		minutes int
	}
	var valid []snoozeDay
	for _, r := range window {
		if r.WakeTime == "" {
			continue
		}
		woke, err := checkin.ParseWakeTime(r.WakeTime)
		if err != nil {
			continue
		}
		valid = append(valid, snoozeDay{date: checkin.DayKey(r.Date), minutes: woke - target})
	}
	if len(valid) < 3 {
		return nil
	}

	late := 0
	total := 0
	worst := valid[0]
	for _, d := range valid {
		if d.minutes > 30 {
			late++
		}
		total += d.minutes
		if d.minutes > worst.minutes {
			worst = d
		}
	}
	if late < 3 {
		return nil
	}

	avg := round1(float64(total) / float64(len(valid)))
	return &Pattern{
		Type:       TypeSnoozeTrap,
		Severity:   SeverityWarning,
		DetectedAt: today,
		Evidence: map[string]any{
			"avgSnoozeMinutes":   avg,
			"worstDay":           worst.date,
			"worstSnoozeMinutes": worst.minutes,
			"targetWake":         DefaultTargetWake,
			"summary":            fmt.Sprintf("woke %.0f minutes past %s on average for %d days", avg, DefaultTargetWake, late),
		},
	}
}

// detectConsumptionVortex fires on 5+ days above 3 hours of consumption in
// the last week. Days without the metadata are skipped, not counted.
func detectConsumptionVortex(records []checkin.Record, today time.Time) *Pattern {
	window := lastN(records, 7)
	if window == nil {
		return nil
	}

	total := 0.0
	over := 0
	worstHours := 0.0
	worstDay := ""
	for _, r := range window {
		if r.ConsumptionHours == nil {
			continue
		}
		hours := *r.ConsumptionHours
		if hours > 3 {
			over++
			total += hours
			if hours > worstHours {
				worstHours = hours
				worstDay = checkin.DayKey(r.Date)
			}
		}
	}
	if over < 5 {
		return nil
	}

	avg := round1(total / float64(over))
	return &Pattern{
		Type:       TypeConsumptionVortex,
		Severity:   SeverityWarning,
		DetectedAt: today,
		Evidence: map[string]any{
			"avgConsumptionHours":   avg,
			"totalConsumptionHours": round1(total),
			"daysOver":              over,
			"worstDay":              worstDay,
			"worstHours":            worstHours,
			"summary":               fmt.Sprintf("%d days above 3h of consumption, averaging %.1fh", over, avg),
		},
	}
}

// detectRelationshipInterference is the correlation rule: among
// boundary-violation days in the last week, how often did sleep or training
// also slip. Needs 3+ violation days and a co-occurrence rate strictly above
// 70% to fire.
func detectRelationshipInterference(records []checkin.Record, today time.Time) *Pattern {
	window := lastN(records, 7)
	if window == nil {
		return nil
	}

	var violationDates []string
	var interferenceDates []string
	for _, r := range window {
		if r.BoundariesOK {
			continue
		}
		violationDates = append(violationDates, checkin.DayKey(r.Date))

		sleepSlipped := !r.SleepOK
		if r.SleepHours != nil {
			sleepSlipped = *r.SleepHours < 7
		}
		if sleepSlipped || !r.TrainingOK {
			interferenceDates = append(interferenceDates, checkin.DayKey(r.Date))
		}
	}
	if len(violationDates) < 3 {
		return nil
	}

	if !correlationExceedsThreshold(len(interferenceDates), len(violationDates)) {
		return nil
	}

	pct := round1(float64(len(interferenceDates)) / float64(len(violationDates)) * 100)
	return &Pattern{
		Type:       TypeRelationshipInterference,
		Severity:   SeverityCritical,
		DetectedAt: today,
		Evidence: map[string]any{
			"correlationPct":        pct,
			"boundaryViolationDays": len(violationDates),
			"interferenceDays":      len(interferenceDates),
			"violationDates":        violationDates,
			"interferenceDates":     interferenceDates,
			"summary":               fmt.Sprintf("%.0f%% of %d boundary-violation days also broke sleep or training", pct, len(violationDates)),
		},
	}
}

// correlationExceedsThreshold is a strict greater-than on 70%. Product docs
// describe the threshold as "at least 70%"; the shipped behavior has always
// been strict and is pinned that way by tests.
func correlationExceedsThreshold(interference, violations int) bool {
	if violations == 0 {
		return false
	}
	return float64(interference)/float64(violations) > 0.70
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
