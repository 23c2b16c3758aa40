package coach

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ironwillhq/ironwill/internal/checkin"
	"github.com/ironwillhq/ironwill/internal/detector"
	"github.com/ironwillhq/ironwill/internal/escalate"
)

// Coach runs the nightly loop: pull recent check-ins, detect behavioral
// patterns, render an intervention for each one, and log everything to
// the pattern history.
type Coach struct {
	store        *checkin.Store
	mapper       *escalate.Mapper
	lookbackDays int
}

func New(store *checkin.Store, mapper *escalate.Mapper, lookbackDays int) *Coach {
	if lookbackDays <= 0 {
		lookbackDays = 14
	}
	return &Coach{store: store, mapper: mapper, lookbackDays: lookbackDays}
}

// ScanResult is everything one user's scan produced.
type ScanResult struct {
	User     checkin.UserContext
	Patterns []detector.Pattern
	Messages []string
}

// ScanUser runs detection for one user as of today. Window rules run
// over stored check-ins; the absence check runs off the profile and is
// appended here, not inside Detect, so a silent user still gets a scan
// result.
func (c *Coach) ScanUser(ctx context.Context, userID string, today time.Time) (*ScanResult, error) {
	user, err := c.store.User(userID)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", userID, err)
	}

	records, err := c.store.GetRecent(userID, c.lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", userID, err)
	}

	var patterns []detector.Pattern
	if len(records) > 0 {
		patterns, err = detector.Detect(records, today)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", userID, err)
		}
	}

	if absence := detector.DetectAbsence(user.LastCheckin, today, user); absence != nil {
		patterns = append(patterns, *absence)
	}

	result := &ScanResult{User: user, Patterns: patterns}
	for _, p := range patterns {
		msg := c.mapper.Render(ctx, p, user)
		result.Messages = append(result.Messages, msg)
		if err := c.store.RecordPattern(userID, string(p.Type), string(p.Severity), p.DetectedAt, p.Evidence); err != nil {
			log.Printf("[coach] record pattern %s for %s: %v", p.Type, userID, err)
		}
	}
	return result, nil
}

// ScanAll scans every known user. One user's failure never blocks the
// rest; errors are logged and counted.
func (c *Coach) ScanAll(ctx context.Context, today time.Time) ([]*ScanResult, error) {
	users, err := c.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("scan all: %w", err)
	}

	var results []*ScanResult
	failed := 0
	for _, u := range users {
		res, err := c.ScanUser(ctx, u.UserID, today)
		if err != nil {
			log.Printf("[coach] scan user %s failed: %v", u.UserID, err)
			failed++
			continue
		}
		results = append(results, res)
	}
	if failed > 0 {
		log.Printf("[coach] scan finished: %d users ok, %d failed", len(results), failed)
	}
	return results, nil
}

// Reminder is one pending check-in nudge.
type Reminder struct {
	User    checkin.UserContext
	Message string
}

// PendingReminders lists users who have not checked in today. Users who
// already crossed into absence territory are left to the scan; the
// reminder only covers the same-day and single-miss window.
func (c *Coach) PendingReminders(today time.Time) ([]Reminder, error) {
	users, err := c.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("reminders: %w", err)
	}

	var out []Reminder
	for _, u := range users {
		days := detector.DaysSince(u.LastCheckin, today, u.Location())
		if !u.LastCheckin.IsZero() && (days < 0 || days > 1) {
			continue
		}
		if days == 0 {
			continue
		}
		msg := "Evening check-in time. Reply with /checkin and your numbers for today."
		if u.CurrentStreak > 0 {
			msg = fmt.Sprintf("Evening check-in time. Your %d-day streak is on the line. Reply with /checkin and your numbers for today.", u.CurrentStreak)
		}
		out = append(out, Reminder{User: u, Message: msg})
	}
	return out, nil
}
