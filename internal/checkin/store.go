package checkin

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed source of check-in records, user profiles,
// and the append-only pattern log.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			current_streak INTEGER NOT NULL DEFAULT 0,
			longest_streak INTEGER NOT NULL DEFAULT 0,
			mode TEXT NOT NULL DEFAULT 'standard',
			partner_name TEXT NOT NULL DEFAULT '',
			shields INTEGER NOT NULL DEFAULT 0,
			timezone TEXT NOT NULL DEFAULT '',
			last_checkin TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS checkins (
			user_id TEXT NOT NULL,
			day TEXT NOT NULL,
			sleep_ok INTEGER NOT NULL DEFAULT 0,
			sleep_hours REAL,
			training_ok INTEGER NOT NULL DEFAULT 0,
			deep_work_ok INTEGER NOT NULL DEFAULT 0,
			deep_work_hours REAL,
			skill_ok INTEGER NOT NULL DEFAULT 0,
			skill_hours REAL,
			zero_violation_ok INTEGER NOT NULL DEFAULT 1,
			boundaries_ok INTEGER NOT NULL DEFAULT 1,
			compliance REAL NOT NULL DEFAULT 0,
			wake_time TEXT NOT NULL DEFAULT '',
			consumption_hours REAL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (user_id, day)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_day ON checkins(user_id, day)`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			detected_at TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_user ON patterns(user_id, detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(type, severity)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Save upserts one record and advances the user's streak bookkeeping.
// A check-in on the day after the previous one extends the streak; any
// larger gap resets it to 1. Re-submitting the same day is idempotent.
func (s *Store) Save(rec Record) error {
	if rec.UserID == "" {
		return fmt.Errorf("save checkin: empty user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	day := DayKey(rec.Date)
	_, err := s.db.Exec(`
		INSERT INTO checkins (user_id, day, sleep_ok, sleep_hours, training_ok,
			deep_work_ok, deep_work_hours, skill_ok, skill_hours,
			zero_violation_ok, boundaries_ok, compliance, wake_time, consumption_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, day) DO UPDATE SET
			sleep_ok=excluded.sleep_ok, sleep_hours=excluded.sleep_hours,
			training_ok=excluded.training_ok, deep_work_ok=excluded.deep_work_ok,
			deep_work_hours=excluded.deep_work_hours, skill_ok=excluded.skill_ok,
			skill_hours=excluded.skill_hours, zero_violation_ok=excluded.zero_violation_ok,
			boundaries_ok=excluded.boundaries_ok, compliance=excluded.compliance,
			wake_time=excluded.wake_time, consumption_hours=excluded.consumption_hours`,
		rec.UserID, day, boolInt(rec.SleepOK), rec.SleepHours, boolInt(rec.TrainingOK),
		boolInt(rec.DeepWorkOK), rec.DeepWorkHours, boolInt(rec.SkillBuildingOK), rec.SkillBuildingHours,
		boolInt(rec.ZeroViolationOK), boolInt(rec.BoundariesOK), rec.ComplianceScore,
		rec.WakeTime, rec.ConsumptionHours)
	if err != nil {
		return fmt.Errorf("save checkin: %w", err)
	}

	return s.advanceStreak(rec.UserID, rec.Date)
}

func (s *Store) advanceStreak(userID string, date time.Time) error {
	var lastDay string
	var current, longest int
	err := s.db.QueryRow(`SELECT last_checkin, current_streak, longest_streak FROM users WHERE user_id = ?`,
		userID).Scan(&lastDay, &current, &longest)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec(`INSERT INTO users (user_id, current_streak, longest_streak, last_checkin)
			VALUES (?, 1, 1, ?)`, userID, DayKey(date))
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user streak: %w", err)
	}

	day := DayKey(date)
	switch lastDay {
	case day:
		return nil
	case DayKey(date.AddDate(0, 0, -1)):
		current++
	default:
		current = 1
	}
	if current > longest {
		longest = current
	}

	_, err = s.db.Exec(`UPDATE users SET current_streak = ?, longest_streak = ?, last_checkin = ?
		WHERE user_id = ?`, current, longest, day, userID)
	if err != nil {
		return fmt.Errorf("update user streak: %w", err)
	}
	return nil
}

// GetRecent returns up to days most recent records, oldest first.
func (s *Store) GetRecent(userID string, days int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT user_id, day, sleep_ok, sleep_hours, training_ok,
			deep_work_ok, deep_work_hours, skill_ok, skill_hours,
			zero_violation_ok, boundaries_ok, compliance, wake_time, consumption_hours
		FROM checkins WHERE user_id = ?
		ORDER BY day DESC LIMIT ?`, userID, days)
	if err != nil {
		return nil, fmt.Errorf("query checkins: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var day string
		var sleepOK, trainingOK, deepOK, skillOK, zeroOK, boundOK int
		if err := rows.Scan(&rec.UserID, &day, &sleepOK, &rec.SleepHours, &trainingOK,
			&deepOK, &rec.DeepWorkHours, &skillOK, &rec.SkillBuildingHours,
			&zeroOK, &boundOK, &rec.ComplianceScore, &rec.WakeTime, &rec.ConsumptionHours); err != nil {
			return nil, fmt.Errorf("scan checkin: %w", err)
		}
		rec.Date, err = time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("parse checkin day %q: %w", day, err)
		}
		rec.SleepOK = sleepOK != 0
		rec.TrainingOK = trainingOK != 0
		rec.DeepWorkOK = deepOK != 0
		rec.SkillBuildingOK = skillOK != 0
		rec.ZeroViolationOK = zeroOK != 0
		rec.BoundariesOK = boundOK != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkins: %w", err)
	}

	// reverse to ascending by date
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// User loads one profile. Unknown users get a zero-value context with the ID set.
func (s *Store) User(userID string) (UserContext, error) {
	var u UserContext
	var lastDay string
	err := s.db.QueryRow(`SELECT user_id, current_streak, longest_streak, mode, partner_name,
		shields, timezone, last_checkin, channel, chat_id FROM users WHERE user_id = ?`,
		userID).Scan(&u.UserID, &u.CurrentStreak, &u.LongestStreak, &u.Mode, &u.PartnerName,
		&u.ShieldsAvailable, &u.Timezone, &lastDay, &u.Channel, &u.ChatID)
	if err == sql.ErrNoRows {
		return UserContext{UserID: userID, Mode: "standard"}, nil
	}
	if err != nil {
		return UserContext{}, fmt.Errorf("load user: %w", err)
	}
	if lastDay != "" {
		u.LastCheckin, err = time.ParseInLocation("2006-01-02", lastDay, u.Location())
		if err != nil {
			return UserContext{}, fmt.Errorf("parse last checkin %q: %w", lastDay, err)
		}
	}
	return u, nil
}

// UpsertUser writes profile fields without touching streak bookkeeping.
func (s *Store) UpsertUser(u UserContext) error {
	if u.UserID == "" {
		return fmt.Errorf("upsert user: empty user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mode := u.Mode
	if mode == "" {
		mode = "standard"
	}
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, mode, partner_name, shields, timezone, channel, chat_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			mode=excluded.mode, partner_name=excluded.partner_name,
			shields=excluded.shields, timezone=excluded.timezone,
			channel=excluded.channel, chat_id=excluded.chat_id`,
		u.UserID, mode, u.PartnerName, u.ShieldsAvailable, u.Timezone, u.Channel, u.ChatID)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// ListUsers returns every known profile, for batch scans.
func (s *Store) ListUsers() ([]UserContext, error) {
	rows, err := s.db.Query(`SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	out := make([]UserContext, 0, len(ids))
	for _, id := range ids {
		u, err := s.User(id)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// RecordPattern appends one detection result to the pattern log. The stored
// shape {type, severity, detectedAt, data} is what analytics consumers read.
func (s *Store) RecordPattern(userID, ptype, severity string, detectedAt time.Time, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal pattern data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`INSERT INTO patterns (id, user_id, type, severity, detected_at, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, ptype, severity, detectedAt.UTC().Format(time.RFC3339), string(payload))
	if err != nil {
		return fmt.Errorf("record pattern: %w", err)
	}
	return nil
}

// PatternCount is one row of the historical analytics aggregate.
type PatternCount struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

// PatternCounts aggregates the pattern log by type and severity. Empty
// userID aggregates across all users.
func (s *Store) PatternCounts(userID string) ([]PatternCount, error) {
	query := `SELECT type, severity, COUNT(*) FROM patterns`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY type, severity ORDER BY COUNT(*) DESC, type`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("count patterns: %w", err)
	}
	defer rows.Close()

	var out []PatternCount
	for rows.Next() {
		var pc PatternCount
		if err := rows.Scan(&pc.Type, &pc.Severity, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan pattern count: %w", err)
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pattern counts: %w", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
