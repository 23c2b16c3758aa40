package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/ironwillhq/ironwill/internal/bus"
	"github.com/ironwillhq/ironwill/internal/channel"
	"github.com/ironwillhq/ironwill/internal/checkin"
	"github.com/ironwillhq/ironwill/internal/coach"
	"github.com/ironwillhq/ironwill/internal/config"
	"github.com/ironwillhq/ironwill/internal/cron"
	"github.com/ironwillhq/ironwill/internal/escalate"
	"github.com/ironwillhq/ironwill/internal/generator"
)

const systemPrompt = `You are Ironwill, a no-excuses accountability coach.
The user has committed to daily check-ins covering sleep, training, deep
work, skill building, zero-violation days, and relationship boundaries.
Hold the line: be direct, concrete, and brief. Acknowledge real progress,
never flatter, never moralize. When the user reports a miss, ask for the
single next action, not an explanation.`

// Runtime is the conversational agent behind free-form messages.
// Interface so tests can inject a mock.
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime instance
type RuntimeFactory func(cfg *config.Config, sysPrompt string) (Runtime, error)

// Options for creating a Gateway
type Options struct {
	RuntimeFactory RuntimeFactory
	SignalChan     chan os.Signal // for testing signal handling
}

// DefaultRuntimeFactory creates the default agentsdk-go runtime
func DefaultRuntimeFactory(cfg *config.Config, sysPrompt string) (Runtime, error) {
	return newRuntime(cfg, sysPrompt)
}

func newRuntime(cfg *config.Config, sysPrompt string) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Agent.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  sysPrompt,
		MaxIterations: cfg.Agent.MaxToolIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	runtime    Runtime
	channels   *channel.ChannelManager
	cron       *cron.Service
	store      *checkin.Store
	coach      *coach.Coach
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	store, err := checkin.NewStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = store

	mapper := escalate.NewMapper(generator.NewClient(cfg),
		time.Duration(cfg.Coach.GenerateTimeoutSeconds)*time.Second)
	g.coach = coach.New(store, mapper, cfg.Coach.LookbackDays)

	// Create runtime using factory (allows injection for testing)
	factory := opts.RuntimeFactory
	var rt Runtime
	if factory == nil {
		rt, err = newRuntime(cfg, systemPrompt)
	} else {
		rt, err = factory(cfg, systemPrompt)
	}
	if err != nil {
		_ = g.store.Close()
		return nil, err
	}
	g.runtime = rt

	g.signalChan = opts.SignalChan

	cronStorePath := filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
	g.cron = cron.NewService(cronStorePath)
	g.cron.OnJob = g.handleJob

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) handleJob(job cron.CronJob) (string, error) {
	switch job.Payload.Kind {
	case cron.PayloadScan:
		return g.runScan(context.Background())
	case cron.PayloadRemind:
		return g.runReminders()
	case cron.PayloadMessage:
		result, err := g.runAgent(context.Background(), job.Payload.Message, "system")
		if err != nil {
			return "", err
		}
		if job.Payload.Deliver && job.Payload.Channel != "" {
			g.bus.Outbound <- bus.OutboundMessage{
				Channel: job.Payload.Channel,
				ChatID:  job.Payload.To,
				Content: result,
			}
		}
		return result, nil
	}
	return "", fmt.Errorf("unknown job payload kind %q", job.Payload.Kind)
}

// runScan is the nightly detection pass over every user.
func (g *Gateway) runScan(ctx context.Context) (string, error) {
	results, err := g.coach.ScanAll(ctx, time.Now())
	if err != nil {
		return "", err
	}

	detected := 0
	for _, res := range results {
		detected += len(res.Patterns)
		for _, msg := range res.Messages {
			g.deliver(res.User, msg)
		}
	}
	return fmt.Sprintf("scanned %d users, %d patterns", len(results), detected), nil
}

func (g *Gateway) runReminders() (string, error) {
	reminders, err := g.coach.PendingReminders(time.Now())
	if err != nil {
		return "", err
	}
	for _, r := range reminders {
		g.deliver(r.User, r.Message)
	}
	return fmt.Sprintf("%d reminders", len(reminders)), nil
}

// deliver routes an intervention to the user's registered channel. Users
// without a channel binding only get their patterns logged.
func (g *Gateway) deliver(user checkin.UserContext, message string) {
	if user.Channel == "" || user.ChatID == "" {
		log.Printf("[gateway] no channel for user %s, message logged only", user.UserID)
		return
	}
	g.bus.Outbound <- bus.OutboundMessage{
		Channel: user.Channel,
		ChatID:  user.ChatID,
		Content: message,
	}
}

func (g *Gateway) ensureCoachJobs() error {
	const (
		scanName   = "nightly_scan"
		remindName = "daily_reminder"
	)

	hasScan := false
	hasRemind := false
	for _, job := range g.cron.ListJobs() {
		switch job.Payload.Kind {
		case cron.PayloadScan:
			hasScan = true
		case cron.PayloadRemind:
			hasRemind = true
		}
	}

	if !hasScan {
		_, err := g.cron.AddJob(scanName,
			cron.Schedule{Kind: "cron", Expr: g.cfg.Coach.ScanCron},
			cron.Payload{Kind: cron.PayloadScan})
		if err != nil {
			return err
		}
	}
	if !hasRemind {
		_, err := g.cron.AddJob(remindName,
			cron.Schedule{Kind: "cron", Expr: g.cfg.Coach.ReminderCron},
			cron.Payload{Kind: cron.PayloadRemind})
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) runAgent(ctx context.Context, prompt, sessionID string) (string, error) {
	resp, err := g.runtime.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: sessionID,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	return resp.Result.Output, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureCoachJobs(); err != nil {
		log.Printf("[gateway] ensure coach jobs warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			g.bindChannel(msg)

			result := g.handleInbound(ctx, msg)
			if result != "" {
				g.bus.Outbound <- bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: result,
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// bindChannel remembers where a user talks to us from so scan results
// and reminders can reach them later.
func (g *Gateway) bindChannel(msg bus.InboundMessage) {
	user, err := g.store.User(msg.SenderID)
	if err != nil {
		log.Printf("[gateway] load user %s: %v", msg.SenderID, err)
		return
	}
	if user.Channel == msg.Channel && user.ChatID == msg.ChatID {
		return
	}
	user.Channel = msg.Channel
	user.ChatID = msg.ChatID
	if err := g.store.UpsertUser(user); err != nil {
		log.Printf("[gateway] bind channel for %s: %v", msg.SenderID, err)
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) string {
	content := strings.TrimSpace(msg.Content)
	cmd, _, _ := strings.Cut(content, " ")

	switch cmd {
	case "/checkin":
		return g.handleCheckin(msg.SenderID, content)
	case "/status":
		return g.handleStatus(msg.SenderID)
	case "/patterns":
		return g.handlePatterns(msg.SenderID)
	case "/scan":
		return g.handleScan(ctx, msg.SenderID)
	}

	result, err := g.runAgent(ctx, content, msg.SessionKey())
	if err != nil {
		log.Printf("[gateway] agent error: %v", err)
		return "Sorry, I encountered an error processing your message."
	}
	return result
}

func (g *Gateway) handleCheckin(userID, content string) string {
	user, err := g.store.User(userID)
	if err != nil {
		log.Printf("[gateway] checkin load user: %v", err)
		return "Could not load your profile. Try again."
	}

	rec, err := checkin.ParseFields(userID, time.Now().In(user.Location()), content)
	if err != nil {
		return fmt.Sprintf("That check-in did not parse: %v\nExample: /checkin sleep=7.5 training=yes deepwork=3 skill=1 violations=0 boundaries=yes wake=06:10 consumption=1", err)
	}
	if err := g.store.Save(rec); err != nil {
		log.Printf("[gateway] save checkin: %v", err)
		return "Could not save your check-in. Try again."
	}

	user, err = g.store.User(userID)
	if err != nil {
		return fmt.Sprintf("Check-in recorded. Compliance today: %.0f%%.", rec.ComplianceScore)
	}
	return fmt.Sprintf("Check-in recorded. Compliance today: %.0f%%. Streak: %d days (best %d).",
		rec.ComplianceScore, user.CurrentStreak, user.LongestStreak)
}

func (g *Gateway) handleStatus(userID string) string {
	user, err := g.store.User(userID)
	if err != nil {
		log.Printf("[gateway] status load user: %v", err)
		return "Could not load your profile."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Streak: %d days (best %d)\n", user.CurrentStreak, user.LongestStreak)
	fmt.Fprintf(&sb, "Mode: %s\n", user.Mode)
	if user.LastCheckin.IsZero() {
		sb.WriteString("Last check-in: never\n")
	} else {
		fmt.Fprintf(&sb, "Last check-in: %s\n", checkin.DayKey(user.LastCheckin))
	}
	fmt.Fprintf(&sb, "Streak shields: %d", user.ShieldsAvailable)
	if user.PartnerName != "" {
		fmt.Fprintf(&sb, "\nAccountability partner: %s", user.PartnerName)
	}
	return sb.String()
}

func (g *Gateway) handlePatterns(userID string) string {
	counts, err := g.store.PatternCounts(userID)
	if err != nil {
		log.Printf("[gateway] pattern counts: %v", err)
		return "Could not load your pattern history."
	}
	if len(counts) == 0 {
		return "No patterns on record. Keep it that way."
	}

	var sb strings.Builder
	sb.WriteString("Pattern history:\n")
	for _, pc := range counts {
		fmt.Fprintf(&sb, "  %s (%s): %d\n", pc.Type, pc.Severity, pc.Count)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (g *Gateway) handleScan(ctx context.Context, userID string) string {
	res, err := g.coach.ScanUser(ctx, userID, time.Now())
	if err != nil {
		log.Printf("[gateway] manual scan: %v", err)
		return "Scan failed. Try again."
	}
	if len(res.Messages) == 0 {
		return "Scan clean. No patterns detected."
	}
	return strings.Join(res.Messages, "\n\n")
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			log.Printf("[gateway] close store warning: %v", err)
		}
	}
	if g.runtime != nil {
		g.runtime.Close()
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
