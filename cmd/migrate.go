package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/veilgate/internal/config"
)

func migrateCmd() *cobra.Command {
	var migrationsPath string

	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Run postgres schema migrations",
		Long: "Applies the SQL migrations to the postgres message store. " +
			"The DSN comes from VEILGATE_POSTGRES_DSN. SQLite mode migrates " +
			"automatically on startup and does not use this command.",
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if err := runMigrate(migrationsPath, direction); err != nil {
				slog.Error("migration failed", "error", err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&migrationsPath, "path", "migrations", "directory containing migration files")
	return cmd
}

func runMigrate(path, direction string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	dsn := cfg.Database.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("VEILGATE_POSTGRES_DSN is not set")
	}
	// golang-migrate's pgx driver expects its own URL scheme.
	if strings.HasPrefix(dsn, "postgres://") {
		dsn = "pgx5://" + strings.TrimPrefix(dsn, "postgres://")
	}

	m, err := migrate.New("file://"+path, dsn)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	default:
		return fmt.Errorf("unknown direction %q (want up or down)", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("migrations already up to date")
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("migrations applied", "direction", direction)
	return nil
}
