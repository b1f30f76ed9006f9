// Package backup computes and writes incremental backup bundles. The
// calculator decides which references a new bundle must carry and which
// commits it may safely exclude; the Backup flow drives git to materialize
// the result.
package backup

import (
	log "github.com/sirupsen/logrus"

	"github.com/refbundle/refbundle/repo"
)

// History provides the ancestry queries the calculator needs. It is
// implemented by *repo.Repository; tests use fakes.
type History interface {
	// ReachableFrom lists every commit reachable from rev, including rev.
	ReachableFrom(rev string) ([]string, error)
	// NewCommits lists the commits reachable from include but not from exclude.
	NewCommits(include, exclude []string) ([]string, error)
	// ParentOf resolves the first parent of hash, reporting whether one exists.
	ParentOf(hash string) (string, bool)
}

// Spec tells the engine exactly what a new bundle must contain: every listed
// reference plus the minimal history to satisfy them, minus everything
// reachable from the excluded commits.
type Spec struct {
	IncludeRefs    []repo.Ref
	ExcludeCommits []string
}

// Result is the outcome of a backup set calculation.
type Result struct {
	Spec Spec

	// Snapshot is the baseline for the next incremental backup: the
	// references the new bundle will carry.
	Snapshot []repo.Ref

	// NewTagRefs are the tag names seen for the first time.
	NewTagRefs []string

	// HasNewCommits is set when the bundle will contain commits absent from
	// the previous backup.
	HasNewCommits bool

	// RefsChanged is set when there are no new commits but the included
	// references still differ from the previous backup's.
	RefsChanged bool
}

// Inputs for a backup set calculation.
type Inputs struct {
	// Current are the live references: all branches, plus all tags when
	// TrackTags is set.
	Current []repo.Ref
	// Previous are the references the previous backup carried. Empty means a
	// full backup.
	Previous []repo.Ref
	// KnownTags is the registry of tag names already backed up. Once a name
	// is in the registry it is never re-evaluated, even if its target moved.
	KnownTags map[string]bool
	TrackTags bool
}

// Calculate decides the contents of the next incremental bundle. It performs
// no mutation and only classifies; the caller acts on the result.
func Calculate(h History, in Inputs) (*Result, error) {
	// Every branch is always included: that not only picks up all commits
	// reachable since the previous backup, but lets a fetch from the bundle
	// mirror the full branch set. Tags are write-once under normal git use
	// (see git tag's "On Retagging"), so only names absent from the registry
	// are included. The registry only ever holds tag names, so filtering the
	// whole ref list by it is safe.
	include := in.Current
	if in.TrackTags {
		include = make([]repo.Ref, 0, len(in.Current))
		for _, ref := range in.Current {
			if in.KnownTags[ref.Name] {
				log.Debugf("tag %s is already backed up, not including it", ref.Name)
				continue
			}
			include = append(include, ref)
		}
	}

	previousTargets := hashesOf(in.Previous)

	newCommits, err := h.NewCommits(hashesOf(include), previousTargets)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Snapshot:      include,
		HasNewCommits: len(newCommits) > 0,
	}
	if !result.HasNewCommits {
		result.RefsChanged = !sameRefSet(include, in.Previous)
	}

	// Next to the new commits, the commit each included reference points to
	// must be retained so the reference itself can be in the bundle.
	required := make(map[string]bool, len(newCommits)+len(include))
	for _, hash := range newCommits {
		required[hash] = true
	}
	for _, ref := range include {
		required[ref.Hash] = true
	}

	// Candidate exclusions are the previous backup's targets plus the first
	// parent of each included reference. A candidate survives only if nothing
	// reachable from it is required: the bundle format cannot carve a gap out
	// of a branch's own history, so an exclusion ancestral to a required
	// commit would silently drop that commit's branch. Discarding such
	// candidates means an old unchanged branch keeps bloating later
	// incremental bundles; that is the accepted tradeoff.
	candidates := previousTargets
	for _, ref := range include {
		if parent, ok := h.ParentOf(ref.Hash); ok {
			candidates = append(candidates, parent)
		}
	}

	seen := make(map[string]bool, len(candidates))
	for _, candidate := range candidates {
		if seen[candidate] {
			continue
		}
		seen[candidate] = true
		reachable, err := h.ReachableFrom(candidate)
		if err != nil {
			return nil, err
		}
		if reachableHitsRequired(reachable, required) {
			log.Debugf("not excluding %s: commits to include are reachable from it", candidate)
			continue
		}
		result.Spec.ExcludeCommits = append(result.Spec.ExcludeCommits, candidate)
	}

	result.Spec.IncludeRefs = include
	for _, ref := range include {
		if ref.IsTag() {
			result.NewTagRefs = append(result.NewTagRefs, ref.Name)
		}
	}
	return result, nil
}

func hashesOf(refs []repo.Ref) []string {
	if len(refs) == 0 {
		return nil
	}
	hashes := make([]string, len(refs))
	for i, ref := range refs {
		hashes[i] = ref.Hash
	}
	return hashes
}

func reachableHitsRequired(reachable []string, required map[string]bool) bool {
	for _, hash := range reachable {
		if required[hash] {
			return true
		}
	}
	return false
}

// sameRefSet compares two reference lists as sets of (name, hash) pairs, so
// a deleted reference alone also counts as a change.
func sameRefSet(a, b []repo.Ref) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[repo.Ref]bool, len(a))
	for _, ref := range a {
		set[ref] = true
	}
	for _, ref := range b {
		if !set[ref] {
			return false
		}
	}
	return true
}
