package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yamakatsunamamugi/sheetflow/internal/batch"
	"github.com/yamakatsunamamugi/sheetflow/internal/config"
	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
	"github.com/yamakatsunamamugi/sheetflow/internal/notify"
	"github.com/yamakatsunamamugi/sheetflow/internal/observer"
	"github.com/yamakatsunamamugi/sheetflow/internal/orchestrator"
	"github.com/yamakatsunamamugi/sheetflow/internal/region"
	"github.com/yamakatsunamamugi/sheetflow/internal/retry"
	"github.com/yamakatsunamamugi/sheetflow/internal/runstore"
	"github.com/yamakatsunamamugi/sheetflow/internal/sheetstore"
	"github.com/yamakatsunamamugi/sheetflow/internal/worker"
	"github.com/yamakatsunamamugi/sheetflow/web/api"
)

var (
	runDryRun    bool
	runParallel  bool
	runsLimit    int
	runsSheet    string
	schedulePath string
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run [SHEET]",
		Short: "Process a sheet once",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use a no-op worker instead of real AI tools")
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "process distinct-worker columns concurrently")
	rootCmd.AddCommand(runCmd)

	watchCmd := &cobra.Command{
		Use:   "watch [SHEET]",
		Short: "Re-run a local workbook whenever it changes",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history and live progress over HTTP",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run sheets unattended on cron schedules",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().StringVar(&schedulePath, "schedule", "schedule.toml", "schedule file path")
	rootCmd.AddCommand(scheduleCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List journaled runs",
		RunE:  runRuns,
	}
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max runs to list")
	runsCmd.Flags().StringVar(&runsSheet, "sheet", "", "filter by sheet reference")
	rootCmd.AddCommand(runsCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// buildStore returns the configured backend and a cleanup func.
func buildStore(cfg *config.Config) (sheetstore.Store, func(), error) {
	switch cfg.Sheet.Backend {
	case "xlsx":
		store := sheetstore.NewXLSXStore()
		return store, func() { store.Close() }, nil
	case "google":
		store := sheetstore.NewGoogleStore(sheetstore.GoogleStoreOptions{
			AccessToken: cfg.Sheet.AccessToken,
		})
		return store, func() {}, nil
	case "memory":
		return sheetstore.NewMemStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown sheet backend %q", cfg.Sheet.Backend)
	}
}

// sheetRef resolves the target sheet, with an optional CLI override.
func sheetRef(cfg *config.Config, override string) (sheetstore.Ref, error) {
	ref := sheetstore.Ref{Sheet: cfg.Sheet.SheetName}
	switch cfg.Sheet.Backend {
	case "google":
		ref.Target = cfg.Sheet.SpreadsheetID
	default:
		ref.Target = config.ExpandPath(cfg.Sheet.Path)
	}
	if override != "" {
		ref.Target = override
	}
	if ref.Target == "" {
		return sheetstore.Ref{}, fmt.Errorf("no sheet given: set sheet.path or sheet.spreadsheet_id in the config, or pass SHEET")
	}
	return ref, nil
}

// buildRegistry loads worker definitions, or scripted stand-ins for
// dry runs.
func buildRegistry(cfg *config.Config, dryRun bool) (*worker.Registry, error) {
	ids := map[string]bool{}
	if cfg.Worker.Default != "" {
		ids[cfg.Worker.Default] = true
	}
	for _, id := range cfg.Worker.ColumnBindings {
		ids[id] = true
	}

	if dryRun {
		reg := worker.NewRegistry()
		for id := range ids {
			if err := reg.Register(worker.NewScriptedWorker(id)); err != nil {
				return nil, err
			}
		}
		return reg, nil
	}

	if cfg.Worker.DefinitionsPath == "" {
		return nil, fmt.Errorf("worker.definitions_path is not configured")
	}
	defs, err := worker.LoadDefinitions(config.ExpandPath(cfg.Worker.DefinitionsPath))
	if err != nil {
		return nil, err
	}
	reg, err := worker.BuildRegistry(defs, time.Duration(cfg.Worker.TimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	for id := range ids {
		if _, err := reg.Lookup(id); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildOrchestrator(cfg *config.Config, store sheetstore.Store, reg *worker.Registry, journal orchestrator.Journal, sink orchestrator.Sink, parallel bool) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(orchestrator.Options{
		Store:         store,
		Registry:      reg,
		DefaultWorker: cfg.Worker.Default,
		Bindings:      cfg.Worker.ColumnBindings,
		Region: region.Options{
			WorkInstructionMarker: cfg.Region.WorkInstructionMarker,
			CopyMarker:            cfg.Region.CopyMarker,
			DefaultHeaderRow:      cfg.Region.DefaultHeaderRow,
			StatusOffset:          cfg.Region.StatusOffset,
			ErrorOffset:           cfg.Region.ErrorOffset,
			OutputOffset:          cfg.Region.OutputOffset,
		},
		Predicate: region.PredicateByName(cfg.Region.RowPredicate),
		Policy: retry.Policy{
			MaxAttempts:          cfg.Retry.MaxAttempts,
			UnknownMaxAttempts:   cfg.Retry.UnknownMaxAttempts,
			RateLimitMaxAttempts: cfg.Retry.RateLimitMaxAttempts,
			BaseDelay:            time.Duration(cfg.Retry.BaseRetryDelaySeconds * float64(time.Second)),
			RateLimitDelay:       time.Duration(cfg.Retry.RateLimitDelaySeconds * float64(time.Second)),
		},
		Parallel: parallel || cfg.Worker.Parallel,
		Sink:     sink,
		Journal:  journal,
	})
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	return notify.NewMultiNotifier(
		notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
		notify.NewDesktopNotifier(cfg.Notifications.Desktop),
	)
}

func printSummary(result *domain.RunResult) {
	elapsed := result.FinishedAt.Sub(result.StartedAt).Round(time.Second)
	fmt.Printf("Run %s: %s cells processed (%d succeeded, %d skipped) in %s\n",
		result.ID, humanize.Comma(int64(result.Processed)),
		result.Succeeded, result.Skipped, elapsed)
	for _, f := range result.Failures {
		fmt.Printf("  %s: %s: %s\n", f.Ref, f.Kind, f.Message)
	}
	if !result.Success {
		fmt.Println("Run aborted; unprocessed cells remain.")
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, cleanup, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	reg, err := buildRegistry(cfg, runDryRun)
	if err != nil {
		return err
	}

	journal, err := runstore.New(config.ExpandPath(cfg.General.DatabasePath))
	if err != nil {
		return err
	}
	defer journal.Close()

	orch, err := buildOrchestrator(cfg, store, reg, journal, orchestrator.LogSink{}, runParallel)
	if err != nil {
		return err
	}

	override := ""
	if len(args) > 0 {
		override = args[0]
	}
	ref, err := sheetRef(cfg, override)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := orch.Run(ctx, ref)
	if result != nil {
		printSummary(result)
		if !runDryRun {
			if nerr := buildNotifier(cfg).Send(notify.ForRun(result)); nerr != nil {
				log.Printf("warning: notification failed: %v", nerr)
			}
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrStopped):
			fmt.Println("Run stopped; remaining cells left unprocessed.")
		case errors.Is(err, orchestrator.ErrAborted):
			os.Exit(1)
		default:
			return err
		}
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Sheet.Backend != "xlsx" {
		return fmt.Errorf("watch mode needs a local workbook, got backend %q", cfg.Sheet.Backend)
	}

	store, cleanup, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	reg, err := buildRegistry(cfg, false)
	if err != nil {
		return err
	}

	journal, err := runstore.New(config.ExpandPath(cfg.General.DatabasePath))
	if err != nil {
		return err
	}
	defer journal.Close()

	orch, err := buildOrchestrator(cfg, store, reg, journal, orchestrator.LogSink{}, false)
	if err != nil {
		return err
	}

	override := ""
	if len(args) > 0 {
		override = args[0]
	}
	ref, err := sheetRef(cfg, override)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runOnce := func() {
		result, err := orch.Run(ctx, ref)
		if result != nil {
			printSummary(result)
		}
		if err != nil && !errors.Is(err, orchestrator.ErrStopped) {
			log.Printf("run failed: %v", err)
		}
	}

	watcher, err := observer.NewSheetWatcher(func(paths []string) {
		log.Printf("change detected in %v", paths)
		runOnce()
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	if err := watcher.AddSheet(ref.Target); err != nil {
		return err
	}
	watcher.Start(ctx)

	fmt.Printf("Watching %s; initial pass first.\n", ref.Target)
	runOnce()

	<-ctx.Done()
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	journal, err := runstore.New(config.ExpandPath(cfg.General.DatabasePath))
	if err != nil {
		return err
	}
	defer journal.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(journal, addr)

	fmt.Printf("Serving on http://%s\n", addr)
	return server.Start()
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scheduleCfg, err := batch.LoadScheduleConfig(config.ExpandPath(schedulePath))
	if err != nil {
		return err
	}
	if len(scheduleCfg.Entries) == 0 {
		return fmt.Errorf("no schedule entries in %s", schedulePath)
	}

	store, cleanup, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	reg, err := buildRegistry(cfg, false)
	if err != nil {
		return err
	}

	journal, err := runstore.New(config.ExpandPath(cfg.General.DatabasePath))
	if err != nil {
		return err
	}
	defer journal.Close()

	// Progress streams to web clients while scheduled runs execute.
	sink := orchestrator.NewChanSink(256)
	defer sink.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(journal, addr)
	server.Pump(sink.Events())
	go func() {
		if err := server.Start(); err != nil {
			log.Printf("web server: %v", err)
		}
	}()

	orch, err := buildOrchestrator(cfg, store, reg, journal, orchestrator.MultiSink{sink, orchestrator.LogSink{}}, false)
	if err != nil {
		return err
	}

	notifier := buildNotifier(cfg)

	sched, err := batch.NewScheduler(scheduleCfg.Entries)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sched.Stop()
	}()

	fmt.Printf("Scheduling %d entries; progress at http://%s\n", len(scheduleCfg.Entries), addr)

	sched.Start(func(e batch.Entry) error {
		runCtx, cancel := context.WithTimeout(ctx, e.MaxDuration)
		defer cancel()

		ref := sheetstore.Ref{Target: config.ExpandPath(e.Sheet), Sheet: e.SheetName}
		result, err := orch.Run(runCtx, ref)
		if result != nil && e.NotifyOnComplete {
			if nerr := notifier.Send(notify.ForRun(result)); nerr != nil {
				log.Printf("warning: notification failed: %v", nerr)
			}
		}
		return err
	})
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	journal, err := runstore.New(config.ExpandPath(cfg.General.DatabasePath))
	if err != nil {
		return err
	}
	defer journal.Close()

	runs, err := journal.ListRuns(context.Background(), runstore.ListOptions{
		SheetRef: runsSheet,
		Limit:    runsLimit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSHEET\tPROCESSED\tSUCCEEDED\tSKIPPED\tRESULT\tSTARTED")
	for _, r := range runs {
		outcome := "ok"
		if !r.Success {
			outcome = "aborted"
		}
		started := "-"
		if r.StartedAt.Valid {
			started = humanize.Time(r.StartedAt.Time)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.SheetRef, r.Processed, r.Succeeded, r.Skipped, outcome, started)
	}
	w.Flush()

	return nil
}
