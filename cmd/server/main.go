package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"postagent-go/internal/app"
	"postagent-go/internal/config"
	"postagent-go/internal/scheduler"
	"postagent-go/internal/storage"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "postagent",
		Short:         "Social posting agent with OAuth2 PKCE login",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", os.Getenv("POSTAGENT_CONFIG"), "path to a JSON or YAML config file")

	root.AddCommand(serveCmd(), migrateCmd(), jobsCmd(), versionCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), oops.In("main").Wrapf(err, "Failed to load the configuration")
	}
	return cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			application, err := app.New(cfg, Version, logger)
			if err != nil {
				return oops.In("main").Wrapf(err, "Failed to create the application")
			}
			defer application.Close()

			if err := application.Run(cmd.Context()); err != nil {
				return oops.In("main").Wrapf(err, "Application failed")
			}
			return nil
		},
	}
}

func openStorage(cmd *cobra.Command) (*storage.SQLiteStorage, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	dbCfg := storage.DefaultConfig()
	dbCfg.Path = cfg.DBPath
	db, err := storage.OpenDatabase(cmd.Context(), dbCfg)
	if err != nil {
		return nil, oops.In("main").Wrapf(err, "Failed to open the database")
	}
	return db, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening the database applies pending migrations.
			db, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			return printStatus(cmd, db)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Revert migrations, one step by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return oops.In("main").Wrapf(err, "Invalid step count %q", args[0])
				}
				steps = n
			}
			db, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.MigrateDown(steps); err != nil {
				return oops.In("main").Wrapf(err, "Failed to revert migrations")
			}
			return printStatus(cmd, db)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			return printStatus(cmd, db)
		},
	})
	return cmd
}

func printStatus(cmd *cobra.Command, db *storage.SQLiteStorage) error {
	status, err := db.GetMigrationStatus()
	if err != nil {
		return oops.In("main").Wrapf(err, "Failed to read the schema version")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version: %d dirty: %t\n", status.Version, status.Dirty)
	return nil
}

// jobsCmd inspects and triggers the persisted jobs of a server sharing the
// same database. A triggered job runs on the server's next poll.
func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger scheduled jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			jobs, err := scheduler.NewSQLiteJobStore(db.DB()).ListJobs(cmd.Context(), scheduler.JobFilter{})
			if err != nil {
				return oops.In("main").Wrapf(err, "Failed to list jobs")
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tSCHEDULE\tSTATUS\tRETRIES\tNEXT RUN\tLAST ERROR")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					j.Name, j.Type, j.Schedule, j.Status, j.RetryCount, j.NextRun.Format(time.RFC3339), j.LastError)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Make a job due now, reviving it if it is dead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			store := scheduler.NewSQLiteJobStore(db.DB())
			sched := scheduler.NewScheduler(store, scheduler.NewJobHandlerRegistry(), nil, zerolog.Nop(), scheduler.Options{})
			if err := sched.RunNow(cmd.Context(), args[0]); err != nil {
				return oops.In("main").With("job", args[0]).Wrapf(err, "Failed to trigger job")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s is due\n", args[0])
			return nil
		},
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
