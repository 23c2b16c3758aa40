package cron

import (
	"time"

	"github.com/google/uuid"
)

// Job kinds understood by the gateway's OnJob handler.
const (
	PayloadScan    = "scan"    // run pattern detection for every user
	PayloadRemind  = "remind"  // daily check-in reminder (single-miss grace)
	PayloadMessage = "message" // deliver a fixed message
)

type Schedule struct {
	Kind    string `json:"kind"` // "cron", "every", or "at"
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

type Payload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
	Deliver bool   `json:"deliver,omitempty"`
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	State          JobState `json:"state"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Schedule:    schedule,
		Payload:     payload,
		Enabled:     true,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
