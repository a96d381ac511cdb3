package sync

import (
	"context"
	"log/slog"
	"sort"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/catalog"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/forceupdate"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/inventory"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/remote"
)

// Oracle exposes the remote force-update tokens and the previously applied
// ones. *forceupdate.Oracle implements it.
type Oracle interface {
	Token(ctx context.Context, id string) string
	Previous(id string) string
	PreviousLog() forceupdate.Log
	Remote(ctx context.Context) map[string]string
}

// PlanOptions are the config flags that steer reconciliation
type PlanOptions struct {
	UseVersionChecking bool
	UpdateAll          bool
	// Channels are provisioned in order when the mods directory is empty
	Channels []remote.Channel
	// Incomplete is set when some channel manifests could not be fetched.
	// The previous log is then carried forward whole.
	Incomplete bool
}

// Planner decides per mod whether to keep, delete or fetch archives. It
// performs no filesystem or network I/O besides what the Oracle does.
type Planner struct {
	logger *slog.Logger
}

// NewPlanner creates a new planner
func NewPlanner(logger *slog.Logger) *Planner {
	return &Planner{logger: logger}
}

// Plan reconciles the local inventory against the catalog. Mods are visited
// in identifier order so the plan is deterministic.
func (p *Planner) Plan(ctx context.Context, inv *inventory.Inventory, cat catalog.Catalog, opts PlanOptions, oracle Oracle) *Plan {
	plan := &Plan{Log: make(forceupdate.Log)}

	if inv.Empty() {
		p.logger.Info("no mods installed, provisioning channels", "channels", len(opts.Channels))
		plan.Fresh = true
		for _, ch := range opts.Channels {
			plan.Actions = append(plan.Actions, Action{
				Kind:    ActionBulkFetch,
				Channel: ch,
				Reason:  ReasonProvision,
			})
		}
		// Freshly provisioned archives already carry every forced change
		for id, token := range oracle.Remote(ctx) {
			plan.Log[id] = token
		}
		return plan
	}

	// Tokens of mods still in the catalog survive passes that do not touch them
	for id, token := range oracle.PreviousLog() {
		if _, ok := cat[id]; ok || opts.Incomplete {
			plan.Log[id] = token
		}
	}

	for _, id := range cat.IDs() {
		r := &modReconciler{
			ctx:     ctx,
			planner: p,
			plan:    plan,
			oracle:  oracle,
			entry:   cat[id],
			deleted: make(map[string]bool),
		}

		files, installed := inv.Mods[id]
		switch {
		case !installed:
			r.fetch(ReasonMissing)
		case opts.UseVersionChecking && !opts.UpdateAll:
			r.byVersion(files)
		default:
			r.byFilename(files, opts.UpdateAll)
		}
	}

	return plan
}

// modReconciler plans the actions for a single catalog entry
type modReconciler struct {
	ctx     context.Context
	planner *Planner
	plan    *Plan
	oracle  Oracle
	entry   catalog.Entry
	deleted map[string]bool
}

func (r *modReconciler) byVersion(files []inventory.File) {
	var matching, outdated []inventory.File
	for _, f := range files {
		if f.Version != "" && f.Version == r.entry.Version {
			matching = append(matching, f)
		} else {
			outdated = append(outdated, f)
		}
	}

	if len(matching) > 1 {
		sortKeepFirst(matching, r.entry.Filename)
		for _, dup := range matching[1:] {
			r.delete(dup.Name, ReasonDuplicate)
		}
	}

	for _, f := range outdated {
		r.delete(f.Name, ReasonOutdated)
	}

	if len(matching) > 0 {
		r.checkForced(matching[0].Name)
		return
	}

	r.fetch(ReasonOutdated)
}

func (r *modReconciler) byFilename(files []inventory.File, updateAll bool) {
	present := false
	for _, f := range files {
		if f.Name == r.entry.Filename {
			present = true
			continue
		}
		r.delete(f.Name, ReasonRenamed)
	}

	switch {
	case updateAll:
		r.fetch(ReasonUpdateAll)
	case present:
		r.checkForced(r.entry.Filename)
	default:
		r.fetch(ReasonMissing)
	}
}

// checkForced handles a mod that is already up to date on disk as kept.
// A remote token that differs from the logged one forces a refresh; a known
// token is recorded again so it stays in the log.
func (r *modReconciler) checkForced(kept string) {
	id := r.entry.ID
	token := r.oracle.Token(r.ctx, id)
	if token == "" {
		r.planner.logger.Debug("mod is up to date", "id", id, "file", kept)
		return
	}

	r.plan.Log[id] = token
	if token == r.oracle.Previous(id) {
		r.planner.logger.Debug("mod is up to date", "id", id, "file", kept, "token", token)
		return
	}

	r.planner.logger.Info("remote forces update", "id", id, "file", kept)
	r.delete(kept, ReasonForced)
	r.fetch(ReasonForced)
}

func (r *modReconciler) delete(name string, reason Reason) {
	if r.deleted[name] {
		return
	}
	r.deleted[name] = true
	r.plan.Actions = append(r.plan.Actions, Action{
		Kind:     ActionDelete,
		ModID:    r.entry.ID,
		Filename: name,
		Reason:   reason,
	})
}

func (r *modReconciler) fetch(reason Reason) {
	r.plan.Actions = append(r.plan.Actions, Action{
		Kind:     ActionFetch,
		ModID:    r.entry.ID,
		Filename: r.entry.Filename,
		Channel:  r.entry.Channel,
		Reason:   reason,
	})
}

// sortKeepFirst orders version-matching files so the one to keep comes first:
// the file named like the catalog entry, then the most recently modified.
// Ties keep scan order.
func sortKeepFirst(files []inventory.File, catalogName string) {
	sort.SliceStable(files, func(i, j int) bool {
		iNamed, jNamed := files[i].Name == catalogName, files[j].Name == catalogName
		if iNamed != jNamed {
			return iNamed
		}
		return files[i].ModTime.After(files[j].ModTime)
	})
}
