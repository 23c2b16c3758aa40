package gateway

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/ironwillhq/ironwill/internal/bus"
	"github.com/ironwillhq/ironwill/internal/checkin"
	"github.com/ironwillhq/ironwill/internal/config"
	"github.com/ironwillhq/ironwill/internal/cron"
)

// mockRuntime implements Runtime interface for testing
type mockRuntime struct {
	response *api.Response
	err      error
	closed   bool
	reqCh    chan api.Request
}

func (m *mockRuntime) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	if m.reqCh != nil {
		select {
		case m.reqCh <- req:
		default:
		}
	}
	return m.response, m.err
}

func (m *mockRuntime) Close() {
	m.closed = true
}

func newTestGateway(t *testing.T, rt Runtime) *Gateway {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "test.db")
	// no provider key: every escalation uses the deterministic templates

	g, err := NewWithOptions(cfg, Options{
		RuntimeFactory: func(cfg *config.Config, sysPrompt string) (Runtime, error) {
			return rt, nil
		},
	})
	if err != nil {
		t.Fatalf("create gateway: %v", err)
	}
	t.Cleanup(func() {
		_ = g.store.Close()
		rt.Close()
	})
	return g
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"", 5, ""},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}

func TestGateway_HandleCheckin(t *testing.T) {
	g := newTestGateway(t, &mockRuntime{})

	msg := bus.InboundMessage{Channel: "telegram", SenderID: "100", ChatID: "555",
		Content: "/checkin sleep=7.5 training=yes deepwork=3 skill=1 violations=0 boundaries=yes"}
	reply := g.handleInbound(context.Background(), msg)

	if !strings.Contains(reply, "Check-in recorded") {
		t.Errorf("reply = %q", reply)
	}
	if !strings.Contains(reply, "100%") {
		t.Errorf("reply = %q, want compliance", reply)
	}
	if !strings.Contains(reply, "Streak: 1") {
		t.Errorf("reply = %q, want streak", reply)
	}

	recs, err := g.store.GetRecent("100", 7)
	if err != nil || len(recs) != 1 {
		t.Fatalf("stored = %v, err = %v", recs, err)
	}
}

func TestGateway_HandleCheckin_ParseError(t *testing.T) {
	g := newTestGateway(t, &mockRuntime{})

	reply := g.handleInbound(context.Background(), bus.InboundMessage{
		SenderID: "100", Content: "/checkin sleep=plenty"})
	if !strings.Contains(reply, "did not parse") {
		t.Errorf("reply = %q", reply)
	}
}

func TestGateway_HandleStatus(t *testing.T) {
	g := newTestGateway(t, &mockRuntime{})

	reply := g.handleInbound(context.Background(), bus.InboundMessage{SenderID: "100", Content: "/status"})
	if !strings.Contains(reply, "Last check-in: never") {
		t.Errorf("reply = %q", reply)
	}

	g.handleInbound(context.Background(), bus.InboundMessage{SenderID: "100",
		Content: "/checkin sleep=yes training=yes"})
	reply = g.handleInbound(context.Background(), bus.InboundMessage{SenderID: "100", Content: "/status"})
	if !strings.Contains(reply, "Streak: 1 days") {
		t.Errorf("reply = %q", reply)
	}
}

func TestGateway_HandlePatterns_Empty(t *testing.T) {
	g := newTestGateway(t, &mockRuntime{})

	reply := g.handleInbound(context.Background(), bus.InboundMessage{SenderID: "100", Content: "/patterns"})
	if !strings.Contains(reply, "No patterns") {
		t.Errorf("reply = %q", reply)
	}
}

func TestGateway_HandleScan_Clean(t *testing.T) {
	g := newTestGateway(t, &mockRuntime{})

	reply := g.handleInbound(context.Background(), bus.InboundMessage{SenderID: "100", Content: "/scan"})
	if !strings.Contains(reply, "Scan clean") {
		t.Errorf("reply = %q", reply)
	}
}

func TestGateway_HandleScan_SurfacesPattern(t *testing.T) {
	g := newTestGateway(t, &mockRuntime{})

	short := 5.0
	now := time.Now()
	for i := 3; i >= 1; i-- {
		rec := checkin.Record{
			UserID: "100", Date: now.AddDate(0, 0, -i),
			SleepHours: &short, TrainingOK: true, DeepWorkOK: true,
			SkillBuildingOK: true, ZeroViolationOK: true, BoundariesOK: true,
			ComplianceScore: 83, WakeTime: "06:00",
		}
		if err := g.store.Save(rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	reply := g.handleInbound(context.Background(), bus.InboundMessage{SenderID: "100", Content: "/scan"})
	if !strings.Contains(reply, "HIGH:") {
		t.Errorf("reply = %q, want sleep intervention", reply)
	}

	counts, err := g.store.PatternCounts("100")
	if err != nil || len(counts) == 0 {
		t.Errorf("counts = %v, err = %v, want logged pattern", counts, err)
	}
}

func TestGateway_FreeFormGoesToRuntime(t *testing.T) {
	reqCh := make(chan api.Request, 1)
	rt := &mockRuntime{
		reqCh:    reqCh,
		response: &api.Response{Result: &api.Result{Output: "One next action: close the laptop."}},
	}
	g := newTestGateway(t, rt)

	msg := bus.InboundMessage{Channel: "telegram", SenderID: "100", ChatID: "555",
		Content: "I keep doomscrolling at night"}
	reply := g.handleInbound(context.Background(), msg)

	if reply != "One next action: close the laptop." {
		t.Errorf("reply = %q", reply)
	}
	select {
	case req := <-reqCh:
		if req.SessionID != "telegram:555" {
			t.Errorf("session = %q, want telegram:555", req.SessionID)
		}
	default:
		t.Error("runtime never called")
	}
}

func TestGateway_RunAgent_NilResult(t *testing.T) {
	g := &Gateway{runtime: &mockRuntime{response: &api.Response{Result: nil}}}

	out, err := g.runAgent(context.Background(), "hi", "s")
	if err != nil {
		t.Fatalf("runAgent error: %v", err)
	}
	if out != "" {
		t.Errorf("out = %q, want empty", out)
	}
}

func TestGateway_BindChannel(t *testing.T) {
	g := newTestGateway(t, &mockRuntime{response: &api.Response{Result: &api.Result{Output: "ok"}}})

	g.bindChannel(bus.InboundMessage{Channel: "telegram", SenderID: "100", ChatID: "555", Content: "hi"})

	u, err := g.store.User("100")
	if err != nil {
		t.Fatalf("User error: %v", err)
	}
	if u.Channel != "telegram" || u.ChatID != "555" {
		t.Errorf("user = %+v", u)
	}
}

func TestGateway_EnsureCoachJobs(t *testing.T) {
	g := newTestGateway(t, &mockRuntime{})
	g.cron = cron.NewService(filepath.Join(t.TempDir(), "jobs.json"))
	g.cron.OnJob = g.handleJob

	if err := g.ensureCoachJobs(); err != nil {
		t.Fatalf("ensureCoachJobs error: %v", err)
	}

	jobs := g.cron.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("jobs = %+v, want scan and reminder", jobs)
	}

	// idempotent
	if err := g.ensureCoachJobs(); err != nil {
		t.Fatalf("second ensureCoachJobs error: %v", err)
	}
	if len(g.cron.ListJobs()) != 2 {
		t.Errorf("jobs duplicated: %+v", g.cron.ListJobs())
	}
}

func TestGateway_ScanJobDeliversToChannel(t *testing.T) {
	g := newTestGateway(t, &mockRuntime{})

	if err := g.store.UpsertUser(checkin.UserContext{
		UserID: "100", Timezone: "UTC", Channel: "telegram", ChatID: "555",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// three silent days puts the user in absence territory
	if err := g.store.Save(checkin.Record{UserID: "100", Date: time.Now().AddDate(0, 0, -3)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	summary, err := g.handleJob(cron.CronJob{Payload: cron.Payload{Kind: cron.PayloadScan}})
	if err != nil {
		t.Fatalf("scan job error: %v", err)
	}
	if !strings.Contains(summary, "1 users") {
		t.Errorf("summary = %q", summary)
	}

	select {
	case out := <-g.bus.Outbound:
		if out.Channel != "telegram" || out.ChatID != "555" {
			t.Errorf("outbound = %+v", out)
		}
		if out.Content == "" {
			t.Error("empty absence intervention")
		}
	case <-time.After(time.Second):
		t.Fatal("no outbound message from scan")
	}
}
