package detector

import "time"

// Type is the closed set of detectable patterns. Every Type listed here has
// a renderer in the escalate package; adding a Type without one is a compile
// error there.
type Type string

const (
	TypeSleepDegradation         Type = "sleep_degradation"
	TypeTrainingAbandonment      Type = "training_abandonment"
	TypeRelapsePattern           Type = "relapse_pattern"
	TypeComplianceDecline        Type = "compliance_decline"
	TypeDeepWorkCollapse         Type = "deep_work_collapse"
	TypeSnoozeTrap               Type = "snooze_trap"
	TypeConsumptionVortex        Type = "consumption_vortex"
	TypeRelationshipInterference Type = "relationship_interference"
	TypeAbsence                  Type = "absence"
)

// AllTypes lists every pattern type, for analytics display order.
var AllTypes = []Type{
	TypeSleepDegradation,
	TypeTrainingAbandonment,
	TypeRelapsePattern,
	TypeComplianceDecline,
	TypeDeepWorkCollapse,
	TypeSnoozeTrap,
	TypeConsumptionVortex,
	TypeRelationshipInterference,
	TypeAbsence,
}

// Severity is ordinal within a family. Rule-based patterns use
// low/medium/high/critical (plus warning for the habit-metadata rules);
// the absence family escalates nudge/warning/critical/emergency.
type Severity string

const (
	SeverityLow       Severity = "low"
	SeverityMedium    Severity = "medium"
	SeverityHigh      Severity = "high"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityNudge     Severity = "nudge"
	SeverityEmergency Severity = "emergency"
)

// Pattern is one detected early-warning condition. Evidence is a flat map of
// numeric aggregates, affected dates, and a one-line summary; the JSON shape
// {type, severity, detectedAt, data} is relied on by downstream consumers.
type Pattern struct {
	Type       Type           `json:"type"`
	Severity   Severity       `json:"severity"`
	DetectedAt time.Time      `json:"detectedAt"`
	Evidence   map[string]any `json:"data"`
}
