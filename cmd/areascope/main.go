// Command areascope runs the scraping task/schedule control plane (spec.md
// §1), or drives a running instance's control API from the CLI. Grounded on
// the teacher's Cobra root command + persistent-flags shape, re-pointed at
// "serve" plus task subcommands instead of a one-shot crawl command.
// Schedules have no subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/areascope/areascope/internal/adapter"
	"github.com/areascope/areascope/internal/api"
	"github.com/areascope/areascope/internal/config"
	"github.com/areascope/areascope/internal/control"
	"github.com/areascope/areascope/internal/engine"
	"github.com/areascope/areascope/internal/listingsink"
	"github.com/areascope/areascope/internal/observability"
	"github.com/areascope/areascope/internal/scheduler"
	"github.com/areascope/areascope/internal/siteadapter/homes"
	"github.com/areascope/areascope/internal/siteadapter/suumo"
	"github.com/areascope/areascope/internal/stalldetector"
	"github.com/areascope/areascope/internal/store"
	"github.com/areascope/areascope/internal/types"
	areascopeclient "github.com/areascope/areascope/pkg/areascope"
)

var (
	cfgFile    string
	verbose    bool
	apiBaseURL string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "areascope",
		Short: "areascope — multi-source real-estate scraping control plane",
		Long: `areascope is the task and schedule control plane for a multi-source
real-estate listing scraper.

It creates durable tasks, runs them serially or in parallel across
(scraper, area) pairs, streams progress and structured logs, responds to
pause/resume/cancel requests, detects and fails silently-stalled tasks, and
materialises recurring schedule templates into concrete task runs.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api", "http://localhost:8080", "control API base URL, used by task subcommands")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// serveCmd wires every component and runs the control plane until
// interrupted.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the control plane: engine, scheduler, stall detector, and HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sink, err := listingsink.NewMongoListingSink(cfg.ListingSink.URI, cfg.ListingSink.Database, cfg.ListingSink.Collection, logger)
	if err != nil {
		return fmt.Errorf("connect listing sink: %w", err)
	}

	registry := adapter.NewRegistry()
	if err := registry.Register("suumo", func() adapter.SiteAdapter { return suumo.New(sink) }); err != nil {
		return fmt.Errorf("register suumo adapter: %w", err)
	}
	if err := registry.Register("homes", func() adapter.SiteAdapter { return homes.New(sink) }); err != nil {
		return fmt.Errorf("register homes adapter: %w", err)
	}

	hooks := engine.NewHooks(logger)
	eng := engine.New(db, cfg, logger, registry, hooks)
	metrics := observability.NewMetrics(logger)
	hooks.OnCompletion(func(ctx context.Context, taskID string, status types.TaskStatus) {
		metrics.OnTaskTerminal(string(status))
	})

	stalls := stalldetector.New(db, cfg.ControlPlane, metrics, logger)
	ctrl := control.New(db, eng, stalls, metrics, cfg.ControlPlane.MaxTasksListed)
	sched := scheduler.New(db, eng, hooks, cfg.Scheduler, metrics, logger)

	server := api.NewServer(cfg.API.Port, ctrl, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.API.Enabled {
		if err := server.Start(); err != nil {
			return fmt.Errorf("start API server: %w", err)
		}
		logger.Info("control API listening", "port", cfg.API.Port)
	}
	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	go sched.Run(ctx)
	go stalls.Run(ctx, cfg.ControlPlane.StallThreshold())

	logger.Info("areascope control plane started")
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// taskCmd groups task-management subcommands, each a thin wrapper over
// pkg/areascope.Client against --api.
func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "manage scraping tasks against a running control plane",
	}
	cmd.AddCommand(taskStartCmd())
	cmd.AddCommand(taskStatusCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskControlCmd("pause", "pause a running task"))
	cmd.AddCommand(taskControlCmd("resume", "resume a paused task"))
	cmd.AddCommand(taskControlCmd("cancel", "cancel a pending, running, or paused task"))
	return cmd
}

func taskStartCmd() *cobra.Command {
	var scrapers, areas []string
	var maxProperties int
	var parallel bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "submit a new task",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := areascopeclient.New(apiBaseURL)
			req := areascopeclient.StartRequest{
				Scrapers:      scrapers,
				Areas:         areas,
				MaxProperties: maxProperties,
			}
			var task *types.Task
			var err error
			if parallel {
				task, err = client.StartParallel(cmd.Context(), req)
			} else {
				task, err = client.StartSerial(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			return printJSON(task)
		},
	}
	cmd.Flags().StringSliceVar(&scrapers, "scrapers", nil, "comma-separated scraper identifiers")
	cmd.Flags().StringSliceVar(&areas, "areas", nil, "comma-separated area codes")
	cmd.Flags().IntVar(&maxProperties, "max-properties", 10, "maximum properties per (scraper, area) pair")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "use the parallel worker topology instead of serial")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [task_id]",
		Short: "fetch one task's current snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := areascopeclient.New(apiBaseURL)
			task, err := client.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(task)
		},
	}
}

func taskListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list up to 100 most-recently-created tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := areascopeclient.New(apiBaseURL)
			tasks, err := client.ListTasks(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			return printJSON(tasks)
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "only list pending/running/paused tasks")
	return cmd
}

func taskControlCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " [task_id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := areascopeclient.New(apiBaseURL)
			var err error
			switch verb {
			case "pause":
				err = client.Pause(cmd.Context(), args[0])
			case "resume":
				err = client.Resume(cmd.Context(), args[0])
			case "cancel":
				err = client.Cancel(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s ok\n", args[0], verb)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the areascope version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(strings.TrimSpace(config.Version))
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
