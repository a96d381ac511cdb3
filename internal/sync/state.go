package sync

import (
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/forceupdate"
	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/remote"
)

// ActionKind identifies what an Action does to the mods directory
type ActionKind string

const (
	// ActionDelete removes a local archive
	ActionDelete ActionKind = "delete"
	// ActionFetch downloads one archive from its channel
	ActionFetch ActionKind = "fetch"
	// ActionBulkFetch downloads and expands every bulk archive of a channel
	ActionBulkFetch ActionKind = "bulk-fetch"
)

// Reason records why an action was planned
type Reason string

const (
	ReasonMissing   Reason = "missing"
	ReasonOutdated  Reason = "outdated"
	ReasonDuplicate Reason = "duplicate"
	ReasonRenamed   Reason = "renamed"
	ReasonForced    Reason = "forced"
	ReasonUpdateAll Reason = "update-all"
	ReasonProvision Reason = "provision"
)

// Action is one filesystem operation of a plan
type Action struct {
	Kind     ActionKind     `json:"kind" yaml:"kind"`
	ModID    string         `json:"mod_id,omitempty" yaml:"mod_id,omitempty"`
	Filename string         `json:"filename,omitempty" yaml:"filename,omitempty"`
	Channel  remote.Channel `json:"channel,omitempty" yaml:"channel,omitempty"`
	Reason   Reason         `json:"reason" yaml:"reason"`
}

// Plan represents the sync operations to perform. Deletions for a mod always
// precede its fetch.
type Plan struct {
	Actions []Action `json:"actions" yaml:"actions"`
	// Log is the force-update log to persist after the actions are applied
	Log forceupdate.Log `json:"force_update_log" yaml:"force_update_log"`
	// Fresh is set when the mods directory had no resolvable archive and the
	// plan provisions whole channels instead
	Fresh bool `json:"fresh" yaml:"fresh"`
}

// Count returns how many actions of kind the plan holds
func (p *Plan) Count(kind ActionKind) int {
	n := 0
	for _, a := range p.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Empty reports whether the plan changes nothing on disk
func (p *Plan) Empty() bool {
	return len(p.Actions) == 0
}
