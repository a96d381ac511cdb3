package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/catalog"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/config"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/forceupdate"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/inventory"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/modmeta"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/remote"
	"github.com/spf13/afero"
)

// Engine orchestrates the sync process
type Engine struct {
	cfg    *config.Config
	fs     afero.Fs
	client remote.Client
	layout remote.Layout
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, fs afero.Fs, client remote.Client, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:    cfg,
		fs:     fs,
		client: client,
		layout: remote.Layout{Base: cfg.URL},
		logger: logger,
		dryRun: dryRun,
	}
}

// Result describes a completed run
type Result struct {
	Plan *Plan
	// Failed lists the actions that could not be applied
	Failed []Action
	// ApplyErr aggregates the errors of Failed
	ApplyErr error
}

// Run executes the complete sync process. Failed actions do not fail the run;
// they are reported in the Result and the force-update log is saved without
// the tokens they would have satisfied.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.logger.Info("starting sync",
		"url", e.cfg.URL,
		"mods_dir", e.cfg.ModsDir,
		"version_checking", e.cfg.VersionChecking(),
		"dry_run", e.dryRun)

	// Ensure mods directory exists
	if !e.dryRun {
		if err := e.fs.MkdirAll(e.cfg.ModsDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create mods directory: %w", err)
		}
	}

	store := forceupdate.NewStore(e.fs, e.cfg.ForceUpdateLog, e.logger)
	oracle := forceupdate.NewOracle(e.client, e.layout, store, e.logger)
	e.logger.Debug("using force-update log", "path", store.Path())

	plan, err := e.buildPlan(ctx, oracle)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync plan: %w", err)
	}

	e.logger.Info("sync plan",
		"delete", plan.Count(ActionDelete),
		"fetch", plan.Count(ActionFetch),
		"bulk_fetch", plan.Count(ActionBulkFetch))

	// check for dry-run mode
	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return &Result{Plan: plan}, nil
	}

	failed, applyErr := e.applyPlan(ctx, plan)
	result := &Result{Plan: plan, Failed: failed, ApplyErr: applyErr}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("sync interrupted: %w", err)
	}

	if err := store.Save(e.buildLog(plan, oracle.PreviousLog(), failed)); err != nil {
		return result, fmt.Errorf("failed to save force-update log: %w", err)
	}

	if applyErr != nil {
		e.logger.Warn("sync completed with errors", "failed", len(failed), "error", applyErr)
		return result, nil
	}

	e.logger.Info("sync completed successfully")
	return result, nil
}

// Plan computes the sync plan without touching the mods directory
func (e *Engine) Plan(ctx context.Context) (*Plan, error) {
	store := forceupdate.NewStore(e.fs, e.cfg.ForceUpdateLog, e.logger)
	oracle := forceupdate.NewOracle(e.client, e.layout, store, e.logger)
	return e.buildPlan(ctx, oracle)
}

// buildPlan scans the mods directory, fetches the catalog and reconciles both
func (e *Engine) buildPlan(ctx context.Context, oracle Oracle) (*Plan, error) {
	inv := inventory.New()
	exists, err := inventory.Exists(e.fs, e.cfg.ModsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat mods directory: %w", err)
	}
	if exists {
		builder := inventory.NewBuilder(e.fs, modmeta.NewResolver(e.logger), e.logger)
		if inv, err = builder.Build(e.cfg.ModsDir); err != nil {
			return nil, err
		}
	} else {
		e.logger.Info("mods directory does not exist yet", "dir", e.cfg.ModsDir)
	}

	channels := catalog.Channels(e.cfg.OptionalMods)
	cat, failed := catalog.NewFetcher(e.client, e.layout, e.logger).MergeAll(ctx, channels)
	e.logger.Info("fetched catalog", "mods", len(cat), "channels", len(channels), "failed_channels", len(failed))

	opts := PlanOptions{
		UseVersionChecking: e.cfg.UseVersionChecking,
		UpdateAll:          e.cfg.UpdateAll,
		Channels:           channels,
		Incomplete:         len(failed) > 0,
	}
	return NewPlanner(e.logger).Plan(ctx, inv, cat, opts, oracle), nil
}

// buildLog returns the log to persist. Mods whose fetch failed keep their
// previous token so a forced refresh is retried next run; a failed bulk
// provisioning keeps the previous log entirely.
func (e *Engine) buildLog(plan *Plan, prev forceupdate.Log, failed []Action) forceupdate.Log {
	for _, a := range failed {
		if a.Kind == ActionBulkFetch {
			return prev.Clone()
		}
	}

	log := plan.Log.Clone()
	for _, a := range failed {
		if a.Kind != ActionFetch {
			continue
		}
		if token, ok := prev[a.ModID]; ok {
			log[a.ModID] = token
		} else {
			delete(log, a.ModID)
		}
	}
	return log
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, a := range plan.Actions {
		switch a.Kind {
		case ActionDelete:
			e.logger.Info("[dry-run] would delete", "file", a.Filename, "id", a.ModID, "reason", a.Reason)
		case ActionFetch:
			e.logger.Info("[dry-run] would fetch", "file", a.Filename, "id", a.ModID, "channel", a.Channel, "reason", a.Reason)
		case ActionBulkFetch:
			e.logger.Info("[dry-run] would provision channel", "channel", a.Channel)
		}
	}
}
