package cron

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewCronJob(t *testing.T) {
	job := NewCronJob("nightly-scan", Schedule{Kind: "cron", Expr: "0 0 21 * * *"}, Payload{Kind: PayloadScan})
	if job.ID == "" {
		t.Error("job ID should not be empty")
	}
	if job.Name != "nightly-scan" {
		t.Errorf("name = %q, want nightly-scan", job.Name)
	}
	if !job.Enabled {
		t.Error("job should be enabled by default")
	}
	if job.Payload.Kind != PayloadScan {
		t.Errorf("payload kind = %q, want scan", job.Payload.Kind)
	}
}

func TestService_AddAndListJobs(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := filepath.Join(tmpDir, "jobs.json")
	s := NewService(storePath)

	job, err := s.AddJob("reminder", Schedule{Kind: "every", EveryMs: 60000}, Payload{Kind: PayloadRemind})
	if err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if job.Name != "reminder" {
		t.Errorf("name = %q, want reminder", job.Name)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}

	// Verify persistence
	data, err := os.ReadFile(storePath)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	var stored []CronJob
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(stored) != 1 || stored[0].Payload.Kind != PayloadRemind {
		t.Errorf("stored jobs = %+v", stored)
	}
}

func TestService_RemoveJob(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	job, _ := s.AddJob("rm-test", Schedule{Kind: "every", EveryMs: 1000}, Payload{Kind: PayloadMessage, Message: "x"})

	if !s.RemoveJob(job.ID) {
		t.Error("RemoveJob returned false")
	}
	if len(s.ListJobs()) != 0 {
		t.Error("job not removed")
	}
	if s.RemoveJob("nonexistent") {
		t.Error("RemoveJob should return false for nonexistent")
	}
}

func TestService_EnableJob(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	job, _ := s.AddJob("toggle", Schedule{Kind: "every", EveryMs: 1000}, Payload{Kind: PayloadRemind})

	updated, err := s.EnableJob(job.ID, false)
	if err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	if updated.Enabled {
		t.Error("job should be disabled")
	}

	updated, err = s.EnableJob(job.ID, true)
	if err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	if !updated.Enabled {
		t.Error("job should be enabled")
	}

	if _, err = s.EnableJob("nonexistent", true); err == nil {
		t.Error("expected error for nonexistent job")
	}
}

func TestService_EveryJobExecutes(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewService(filepath.Join(tmpDir, "jobs.json"))

	var runs atomic.Int32
	s.OnJob = func(job CronJob) (string, error) {
		runs.Add(1)
		return "ok", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	if _, err := s.AddJob("fast", Schedule{Kind: "every", EveryMs: 100}, Payload{Kind: PayloadRemind}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Error("every-job never executed")
	}
}

func TestService_LoadExistingJobs(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := filepath.Join(tmpDir, "jobs.json")

	first := NewService(storePath)
	if _, err := first.AddJob("persisted", Schedule{Kind: "every", EveryMs: 60000}, Payload{Kind: PayloadScan}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	second := NewService(storePath)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer second.Stop()

	jobs := second.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "persisted" {
		t.Errorf("loaded jobs = %+v", jobs)
	}
}
