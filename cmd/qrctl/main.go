// main.go - Admin control tool for qrclinic
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"qrclinic/internal"
	"qrclinic/internal/analytics"
	"qrclinic/internal/channels"
	"qrclinic/internal/config"
	"qrclinic/internal/jobs"
	"qrclinic/internal/seeder"
	"qrclinic/internal/settings"
	"qrclinic/internal/timeframe"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&SeedCommand{},
	&AddChannelCommand{},
	&SetClinicCommand{},
	&CleanupDemoCommand{},
	&ReportCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand populates the DB with demo channels and events
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with demo channels and events" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	events := fs.Int("events", 500, "access events per channel")
	days := fs.Int("days", 60, "spread events over this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}

	se := seeder.NewSeeder(app.DBManager, slog.Default(), *events)
	se.Days = *days
	return se.Run(ctx)
}

// AddChannelCommand registers a marketing channel
type AddChannelCommand struct{}

func (c *AddChannelCommand) Name() string        { return "add-channel" }
func (c *AddChannelCommand) Description() string { return "Registers a channel with optional ad spend" }

func (c *AddChannelCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("add-channel", flag.ContinueOnError)
	id := fs.String("id", "", "channel id (generated when empty)")
	name := fs.String("name", "", "display name")
	budget := fs.Int64("budget", 0, "ad budget in yen")
	start := fs.String("start", "", "ad start date, YYYY-MM-DD")
	end := fs.String("end", "", "ad end date, YYYY-MM-DD")
	placement := fs.String("placement", "", "where the ad runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}
	if strings.TrimSpace(*name) == "" {
		return fmt.Errorf("usage: %s -name <name> [-id id] [-budget yen] [-start date] [-end date]", c.Name())
	}

	channel := channels.Channel{
		ID:          strings.TrimSpace(*id),
		Name:        strings.TrimSpace(*name),
		Active:      true,
		AdBudget:    *budget,
		AdPlacement: *placement,
	}
	var err error
	if channel.AdStartDate, err = parseDate(*start); err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	if channel.AdEndDate, err = parseDate(*end); err != nil {
		return fmt.Errorf("invalid end date: %w", err)
	}

	if err := channels.CreateChannel(app.DBManager.GetConnection(), &channel); err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}

	fmt.Printf("Channel created: %s\n", channel.ID)
	return nil
}

// SetClinicCommand stores the clinic location and excluded IPs
type SetClinicCommand struct{}

func (c *SetClinicCommand) Name() string        { return "set-clinic" }
func (c *SetClinicCommand) Description() string { return "Sets the clinic location and excluded IPs" }

func (c *SetClinicCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("set-clinic", flag.ContinueOnError)
	lat := fs.Float64("lat", 0, "clinic latitude")
	lng := fs.Float64("lng", 0, "clinic longitude")
	excluded := fs.String("exclude-ips", "", "comma separated IPs left out of location reports")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}
	db := app.DBManager.GetConnection()

	if *lat != 0 || *lng != 0 {
		if err := settings.SetClinicCenter(db, *lat, *lng); err != nil {
			return fmt.Errorf("failed to store clinic location: %w", err)
		}
	}
	if *excluded != "" {
		if err := settings.SetExcludedIPs(db, strings.Split(*excluded, ",")); err != nil {
			return fmt.Errorf("failed to store excluded IPs: %w", err)
		}
	}
	return nil
}

// CleanupDemoCommand runs the demo event cleanup once
type CleanupDemoCommand struct{}

func (c *CleanupDemoCommand) Name() string        { return "cleanup-demo" }
func (c *CleanupDemoCommand) Description() string { return "Deletes demo events past their retention" }

func (c *CleanupDemoCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}

	deleted, err := jobs.NewDemoCleanupJob(app.DBManager, slog.Default(), config.GetConfig()).Run()
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d demo events\n", deleted)
	return nil
}

// ReportCommand prints a stats report as JSON
type ReportCommand struct{}

func (c *ReportCommand) Name() string { return "report" }
func (c *ReportCommand) Description() string {
	return "Prints channels, overall or locations stats as JSON"
}

func (c *ReportCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	kind := fs.String("kind", "overall", "channels, overall or locations")
	period := fs.String("period", "", "today, week, month, all or custom")
	start := fs.String("start", "", "custom period start, YYYY-MM-DD")
	end := fs.String("end", "", "custom period end, YYYY-MM-DD")
	ids := fs.String("ids", "", "comma separated channel ids (all active when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("app initialization failed, cannot connect to database")
	}

	cfg := config.GetConfig()
	db := app.DBManager.GetConnection()
	service := internal.NewStatsService(app.DBManager, slog.Default(), cfg)

	channelIDs := analytics.ParseChannelIDs(*ids)
	if len(channelIDs) == 0 {
		active, err := channels.GetActiveChannelIDs(db)
		if err != nil {
			return err
		}
		channelIDs = active
	}
	spec := timeframe.ParsePeriodSpec(*period, *start, *end)

	var (
		report any
		err    error
	)
	switch *kind {
	case "channels":
		report, err = service.GetChannelStats(ctx, channelIDs, spec)
	case "overall":
		report, err = service.GetOverallStats(ctx, channelIDs, spec)
	case "locations":
		report, err = service.GetLocationAggregates(ctx, channelIDs, spec)
	default:
		return fmt.Errorf("unknown report kind: %s", *kind)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}

	db := app.DBManager.GetConnection()

	list, err := channels.GetAllChannels(db)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Channels: %d", len(list))

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// Helper functions

// parseDate parses an optional YYYY-MM-DD date at midnight UTC
func parseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: qrctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
