package checkin

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Thresholds used to derive the yes/no flags when the user reports raw
// hours instead. They mirror the detection cutoffs so a day that would
// trip a rule never parses as "ok".
const (
	sleepOKHours    = 6.0
	deepWorkOKHours = 1.5
)

// ParseFields parses the key=value grammar of the /checkin command into
// a Record for the given user and day, e.g.:
//
//	sleep=7.5 training=yes deepwork=3 skill=1.5 violations=0 boundaries=yes wake=06:10 consumption=1.5
//
// Numeric sleep/deepwork values set both the hours and the derived flag.
// A compliance= override wins over the derived score.
func ParseFields(userID string, date time.Time, input string) (Record, error) {
	rec := Record{
		UserID:          userID,
		Date:            DateOnly(date),
		ZeroViolationOK: true,
		BoundariesOK:    true,
	}

	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return Record{}, fmt.Errorf("empty check-in")
	}

	var explicitCompliance *float64
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return Record{}, fmt.Errorf("check-in field %q: want key=value", field)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "sleep":
			if b, isBool := parseBool(value); isBool {
				rec.SleepOK = b
				break
			}
			hours, err := parseHours(key, value)
			if err != nil {
				return Record{}, err
			}
			rec.SleepHours = &hours
			rec.SleepOK = hours >= sleepOKHours
		case "training":
			b, isBool := parseBool(value)
			if !isBool {
				return Record{}, fmt.Errorf("check-in field training=%q: want yes/no", value)
			}
			rec.TrainingOK = b
		case "deepwork":
			if b, isBool := parseBool(value); isBool {
				rec.DeepWorkOK = b
				break
			}
			hours, err := parseHours(key, value)
			if err != nil {
				return Record{}, err
			}
			rec.DeepWorkHours = &hours
			rec.DeepWorkOK = hours >= deepWorkOKHours
		case "skill":
			if b, isBool := parseBool(value); isBool {
				rec.SkillBuildingOK = b
				break
			}
			hours, err := parseHours(key, value)
			if err != nil {
				return Record{}, err
			}
			rec.SkillBuildingHours = &hours
			rec.SkillBuildingOK = hours > 0
		case "violations":
			if b, isBool := parseBool(value); isBool {
				// violations=no means a clean day
				rec.ZeroViolationOK = !b
				break
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return Record{}, fmt.Errorf("check-in field violations=%q: want a count or yes/no", value)
			}
			rec.ZeroViolationOK = n == 0
		case "boundaries":
			b, isBool := parseBool(value)
			if !isBool {
				return Record{}, fmt.Errorf("check-in field boundaries=%q: want yes/no", value)
			}
			rec.BoundariesOK = b
		case "wake":
			if _, err := ParseWakeTime(value); err != nil {
				return Record{}, err
			}
			rec.WakeTime = value
		case "consumption":
			hours, err := parseHours(key, value)
			if err != nil {
				return Record{}, err
			}
			rec.ConsumptionHours = &hours
		case "compliance":
			score, err := strconv.ParseFloat(value, 64)
			if err != nil || score < 0 || score > 100 {
				return Record{}, fmt.Errorf("check-in field compliance=%q: want 0-100", value)
			}
			explicitCompliance = &score
		default:
			return Record{}, fmt.Errorf("unknown check-in field %q", key)
		}
	}

	if explicitCompliance != nil {
		rec.ComplianceScore = *explicitCompliance
	} else {
		rec.ComplianceScore = ComplianceScore(rec)
	}
	return rec, nil
}

func parseBool(s string) (value, ok bool) {
	switch strings.ToLower(s) {
	case "yes", "y", "true":
		return true, true
	case "no", "n", "false":
		return false, true
	}
	return false, false
}

func parseHours(key, value string) (float64, error) {
	hours, err := strconv.ParseFloat(value, 64)
	if err != nil || hours < 0 || hours > 24 {
		return 0, fmt.Errorf("check-in field %s=%q: want hours 0-24", key, value)
	}
	return hours, nil
}
