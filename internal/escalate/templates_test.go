package escalate

import (
	"strings"
	"testing"
	"time"

	"github.com/ironwillhq/ironwill/internal/checkin"
	"github.com/ironwillhq/ironwill/internal/detector"
)

func TestAbsenceMessages_RequiredFields(t *testing.T) {
	tests := []struct {
		severity detector.Severity
		days     int
		tag      string
	}{
		{detector.SeverityNudge, 2, "NUDGE"},
		{detector.SeverityWarning, 3, "WARNING"},
		{detector.SeverityCritical, 4, "CRITICAL"},
		{detector.SeverityEmergency, 5, "EMERGENCY"},
	}
	for _, tt := range tests {
		msg := renderAbsence(absencePattern(tt.severity, tt.days), checkin.UserContext{})
		if !strings.Contains(msg, tt.tag) {
			t.Errorf("%s: missing severity tag in %q", tt.severity, msg)
		}
		if !strings.Contains(msg, "21") {
			t.Errorf("%s: missing previous streak in %q", tt.severity, msg)
		}
		if !strings.Contains(strings.ToLower(msg), "check in") {
			t.Errorf("%s: missing call to action in %q", tt.severity, msg)
		}
	}
}

func TestAbsenceCritical_ReferencesHistory(t *testing.T) {
	msg := renderAbsence(absencePattern(detector.SeverityCritical, 4), checkin.UserContext{})
	if !strings.Contains(msg, "Last time") {
		t.Errorf("critical message must reference a prior episode: %q", msg)
	}
}

func TestAbsenceEmergency_OptionalClauses(t *testing.T) {
	p := absencePattern(detector.SeverityEmergency, 6)

	both := renderAbsence(p, checkin.UserContext{ShieldsAvailable: 2, PartnerName: "Sam"})
	if !strings.Contains(both, "2 streak shield") {
		t.Errorf("missing shield clause: %q", both)
	}
	if !strings.Contains(both, "Sam") {
		t.Errorf("missing partner clause: %q", both)
	}

	shieldOnly := renderAbsence(p, checkin.UserContext{ShieldsAvailable: 1})
	if !strings.Contains(shieldOnly, "streak shield") {
		t.Errorf("missing shield clause: %q", shieldOnly)
	}
	if strings.Contains(shieldOnly, "notifying") {
		t.Errorf("unexpected partner clause: %q", shieldOnly)
	}

	partnerOnly := renderAbsence(p, checkin.UserContext{PartnerName: "Sam"})
	if strings.Contains(partnerOnly, "shield") {
		t.Errorf("unexpected shield clause: %q", partnerOnly)
	}
	if !strings.Contains(partnerOnly, "Sam") {
		t.Errorf("missing partner clause: %q", partnerOnly)
	}

	neither := renderAbsence(p, checkin.UserContext{})
	if strings.Contains(neither, "shield") || strings.Contains(neither, "notifying") {
		t.Errorf("clauses must be absent without shields or partner: %q", neither)
	}
}

func TestFallbackMessages_SurfaceEvidence(t *testing.T) {
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		pattern detector.Pattern
		want    []string
	}{
		{
			name: "snooze trap",
			pattern: detector.Pattern{
				Type: detector.TypeSnoozeTrap, Severity: detector.SeverityWarning, DetectedAt: now,
				Evidence: map[string]any{"avgSnoozeMinutes": 45.0, "targetWake": "06:30"},
			},
			want: []string{"45", "06:30"},
		},
		{
			name: "consumption vortex",
			pattern: detector.Pattern{
				Type: detector.TypeConsumptionVortex, Severity: detector.SeverityWarning, DetectedAt: now,
				Evidence: map[string]any{"daysOver": 5, "avgConsumptionHours": 4.2},
			},
			want: []string{"5", "4.2"},
		},
		{
			name: "deep work collapse",
			pattern: detector.Pattern{
				Type: detector.TypeDeepWorkCollapse, Severity: detector.SeverityCritical, DetectedAt: now,
				Evidence: map[string]any{"avgDeepWorkHours": 0.8, "targetHours": 2.0},
			},
			want: []string{"0.8", "2.0"},
		},
		{
			name: "relationship interference",
			pattern: detector.Pattern{
				Type: detector.TypeRelationshipInterference, Severity: detector.SeverityCritical, DetectedAt: now,
				Evidence: map[string]any{"correlationPct": 100.0, "interferenceDays": 5, "boundaryViolationDays": 5},
			},
			want: []string{"100%", "5"},
		},
		{
			name: "relapse",
			pattern: detector.Pattern{
				Type: detector.TypeRelapsePattern, Severity: detector.SeverityCritical, DetectedAt: now,
				Evidence: map[string]any{"violationsCount": 3, "windowDays": 7},
			},
			want: []string{"3", "7"},
		},
		{
			name: "compliance decline",
			pattern: detector.Pattern{
				Type: detector.TypeComplianceDecline, Severity: detector.SeverityMedium, DetectedAt: now,
				Evidence: map[string]any{"avgCompliance": 53.3},
			},
			want: []string{"53.3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FallbackMessage(tt.pattern, checkin.UserContext{})
			for _, want := range tt.want {
				if !strings.Contains(msg, want) {
					t.Errorf("message missing %q: %q", want, msg)
				}
			}
			// every template names a concrete next step
			if !strings.Contains(msg, "Action:") {
				t.Errorf("message missing corrective action: %q", msg)
			}
		})
	}
}

// JSON-roundtripped evidence arrives as float64; templates must still render.
func TestFallbackMessages_FloatEvidenceFromJSON(t *testing.T) {
	p := detector.Pattern{
		Type: detector.TypeRelapsePattern, Severity: detector.SeverityCritical,
		Evidence: map[string]any{"violationsCount": float64(3), "windowDays": float64(7)},
	}
	msg := FallbackMessage(p, checkin.UserContext{})
	if !strings.Contains(msg, "3 violations") {
		t.Errorf("integer formatting broke on float64 evidence: %q", msg)
	}
}
