package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironwillhq/ironwill/internal/checkin"
	"github.com/ironwillhq/ironwill/internal/coach"
	"github.com/ironwillhq/ironwill/internal/config"
	"github.com/ironwillhq/ironwill/internal/escalate"
	"github.com/ironwillhq/ironwill/internal/gateway"
	"github.com/ironwillhq/ironwill/internal/generator"
)

var rootCmd = &cobra.Command{
	Use:   "ironwill",
	Short: "ironwill - accountability coach with behavioral pattern detection",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + cron + nightly scans)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and the local user profile",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show config and streak status",
	RunE:  runStatus,
}

var checkinCmd = &cobra.Command{
	Use:   "checkin [key=value ...]",
	Short: "Record today's check-in, e.g. sleep=7.5 training=yes deepwork=3",
	RunE:  runCheckin,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run pattern detection now and print any interventions",
	RunE:  runScan,
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show the detected pattern history",
	RunE:  runPatterns,
}

var (
	userFlag     string
	modeFlag     string
	partnerFlag  string
	shieldsFlag  int
	timezoneFlag string
	allUsersFlag bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "local", "user id to act on")
	onboardCmd.Flags().StringVar(&modeFlag, "mode", "standard", "accountability mode")
	onboardCmd.Flags().StringVar(&partnerFlag, "partner", "", "accountability partner name")
	onboardCmd.Flags().IntVar(&shieldsFlag, "shields", 0, "streak shields available")
	onboardCmd.Flags().StringVar(&timezoneFlag, "timezone", "", "IANA timezone, e.g. Europe/Berlin")
	scanCmd.Flags().BoolVar(&allUsersFlag, "all", false, "scan every known user")
	patternsCmd.Flags().BoolVar(&allUsersFlag, "all", false, "aggregate across all users")
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, checkinCmd, scanCmd, patternsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (*checkin.Store, error) {
	return checkin.NewStore(cfg.DBPath())
}

func newCoach(cfg *config.Config, store *checkin.Store) *coach.Coach {
	mapper := escalate.NewMapper(generator.NewClient(cfg),
		time.Duration(cfg.Coach.GenerateTimeoutSeconds)*time.Second)
	return coach.New(store, mapper, cfg.Coach.LookbackDays)
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'ironwill onboard' or set IRONWILL_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if timezoneFlag != "" {
		if _, err := time.LoadLocation(timezoneFlag); err != nil {
			return fmt.Errorf("timezone %q: %w", timezoneFlag, err)
		}
	}
	err = store.UpsertUser(checkin.UserContext{
		UserID:           userFlag,
		Mode:             modeFlag,
		PartnerName:      partnerFlag,
		ShieldsAvailable: shieldsFlag,
		Timezone:         timezoneFlag,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Profile ready: %s (mode %s)\n", userFlag, modeFlag)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set IRONWILL_API_KEY environment variable")
	fmt.Fprintln(out, "  3. Run 'ironwill checkin sleep=7.5 training=yes' tonight")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Database: %s\n", cfg.DBPath())
	fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Fprintf(out, "API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Fprintln(out, "API Key: set")
	} else {
		fmt.Fprintln(out, "API Key: not set")
	}
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Fprintf(out, "Scan: %s (lookback %d days)\n", cfg.Coach.ScanCron, cfg.Coach.LookbackDays)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return printUserStatus(out, store, userFlag)
}

func printUserStatus(out io.Writer, store *checkin.Store, userID string) error {
	user, err := store.User(userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "User: %s\n", user.UserID)
	fmt.Fprintf(out, "Streak: %d days (best %d)\n", user.CurrentStreak, user.LongestStreak)
	if user.LastCheckin.IsZero() {
		fmt.Fprintln(out, "Last check-in: never")
	} else {
		fmt.Fprintf(out, "Last check-in: %s\n", checkin.DayKey(user.LastCheckin))
	}
	return nil
}

func runCheckin(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return recordCheckin(out, store, userFlag, strings.Join(args, " "))
}

func recordCheckin(out io.Writer, store *checkin.Store, userID, fields string) error {
	user, err := store.User(userID)
	if err != nil {
		return err
	}

	rec, err := checkin.ParseFields(userID, time.Now().In(user.Location()), fields)
	if err != nil {
		return err
	}
	if err := store.Save(rec); err != nil {
		return err
	}

	user, err = store.User(userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Check-in recorded for %s.\n", checkin.DayKey(rec.Date))
	fmt.Fprintf(out, "Compliance: %.0f%%. Streak: %d days (best %d).\n",
		rec.ComplianceScore, user.CurrentStreak, user.LongestStreak)
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	c := newCoach(cfg, store)
	ctx := context.Background()
	now := time.Now()

	var results []*coach.ScanResult
	if allUsersFlag {
		results, err = c.ScanAll(ctx, now)
		if err != nil {
			return err
		}
	} else {
		res, err := c.ScanUser(ctx, userFlag, now)
		if err != nil {
			return err
		}
		results = []*coach.ScanResult{res}
	}

	return printScanResults(out, results)
}

func printScanResults(out io.Writer, results []*coach.ScanResult) error {
	detected := 0
	for _, res := range results {
		for i, p := range res.Patterns {
			detected++
			fmt.Fprintf(out, "[%s] %s (%s)\n", res.User.UserID, p.Type, p.Severity)
			fmt.Fprintf(out, "%s\n\n", res.Messages[i])
		}
	}
	if detected == 0 {
		fmt.Fprintln(out, "Scan clean. No patterns detected.")
	}
	return nil
}

func runPatterns(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	userID := userFlag
	if allUsersFlag {
		userID = ""
	}
	return printPatternCounts(out, store, userID)
}

func printPatternCounts(out io.Writer, store *checkin.Store, userID string) error {
	counts, err := store.PatternCounts(userID)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Fprintln(out, "No patterns on record.")
		return nil
	}
	for _, pc := range counts {
		fmt.Fprintf(out, "%-28s %-10s %d\n", pc.Type, pc.Severity, pc.Count)
	}
	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}
