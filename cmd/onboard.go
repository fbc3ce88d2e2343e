package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/veilgate/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		Long: "Walks through the initial configuration and writes the config " +
			"file. Credentials are never stored: set them as VEILGATE_* " +
			"environment variables before running serve.",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runOnboard(); err != nil {
				fmt.Fprintln(os.Stderr, "onboarding aborted:", err)
				os.Exit(1)
			}
		},
	}
}

func runOnboard() error {
	cfg := config.Default()

	dbMode := cfg.Database.Mode
	port := strconv.Itoa(cfg.Gateway.Port)
	autoRespond := strconv.Itoa(cfg.Brain.AutoRespondSec)
	cron := cfg.Sync.Cron
	var sources []string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Message store").
				Description("Where triaged messages are kept.").
				Options(
					huh.NewOption("SQLite (single file, recommended)", "sqlite"),
					huh.NewOption("Postgres (needs VEILGATE_POSTGRES_DSN)", "postgres"),
					huh.NewOption("In-memory (lost on restart)", "memory"),
				).
				Value(&dbMode),
			huh.NewInput().
				Title("Gateway port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n <= 0 || n > 65535 {
						return fmt.Errorf("enter a port between 1 and 65535")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Sources to enable").
				Description("Each needs its token in the matching VEILGATE_* env var.").
				Options(
					huh.NewOption("Telegram", "telegram"),
					huh.NewOption("Discord", "discord"),
					huh.NewOption("SMS gateway webhook", "sms"),
					huh.NewOption("Slack workspace (polled)", "slack"),
					huh.NewOption("Mailbox (polled)", "mailbox"),
					huh.NewOption("Code review (polled)", "codereview"),
				).
				Value(&sources),
			huh.NewInput().
				Title("Auto-respond window (seconds)").
				Description("0 disables auto-respond; replies then wait for you.").
				Value(&autoRespond).
				Validate(func(s string) error {
					if _, err := strconv.Atoi(s); err != nil {
						return fmt.Errorf("enter a number of seconds")
					}
					return nil
				}),
			huh.NewInput().
				Title("Scheduled sync (cron)").
				Description("Cron expression for the periodic full sync. Empty disables it.").
				Value(&cron),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Database.Mode = dbMode
	cfg.Gateway.Port, _ = strconv.Atoi(port)
	cfg.Brain.AutoRespondSec, _ = strconv.Atoi(autoRespond)
	cfg.Sync.Cron = cron
	for _, src := range sources {
		switch src {
		case "telegram":
			cfg.Sources.Telegram.Enabled = true
		case "discord":
			cfg.Sources.Discord.Enabled = true
		case "sms":
			cfg.Sources.SMS.Enabled = true
		case "slack":
			cfg.Sources.Slack.Enabled = true
		case "mailbox":
			cfg.Sources.Mailbox.Enabled = true
		case "codereview":
			cfg.Sources.CodeReview.Enabled = true
		}
	}

	path := resolveConfigPath()
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Println("Config written to", config.ExpandHome(path))
	fmt.Println("Set credentials via environment, for example:")
	fmt.Println("  export VEILGATE_TELEGRAM_TOKEN=...")
	fmt.Println("  export VEILGATE_OPENAI_API_KEY=...")
	fmt.Println("Then start the pipeline with: veilgate serve")
	return nil
}
