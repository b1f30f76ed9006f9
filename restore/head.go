// Package restore applies backup bundles to a target repository. The HEAD
// safety evaluation decides, before anything is mutated, how the checked out
// branch must be treated; the Restoration orchestrator sequences
// verification, safety handling and the actual reference updates across one
// or many bundle files.
package restore

import (
	"github.com/refbundle/refbundle/repo"
)

// HeadState classifies how the checked out branch is handled while a bundle
// is applied.
type HeadState int

const (
	// HeadUntouched: the bulk reference update can proceed as-is.
	HeadUntouched HeadState = iota
	// HeadDetached: HEAD is detached first so the checked out branch can be
	// deleted.
	HeadDetached
	// HeadFastForwarded: the checked out branch is moved to its new target
	// with an explicit hard reset before the bulk update, which then treats
	// HEAD as already settled.
	HeadFastForwarded
	// HeadRefused: applying the bundle would endanger the working tree and
	// is not allowed without --force.
	HeadRefused
)

func (s HeadState) String() string {
	switch s {
	case HeadUntouched:
		return "untouched"
	case HeadDetached:
		return "detached"
	case HeadFastForwarded:
		return "fast-forwarded"
	case HeadRefused:
		return "refused"
	}
	return "unknown"
}

// HeadPlan is the outcome of the safety evaluation: the state plus the
// concrete adjustments the orchestrator must make around the bulk fetch.
type HeadPlan struct {
	State HeadState

	// ResetTo is the commit to hard-reset the checked out branch to before
	// the bulk fetch. Only set for HeadFastForwarded.
	ResetTo string

	// UpdateHeadOK is set when git fetch must be allowed to touch (or
	// no-op on) the current branch with --update-head-ok.
	UpdateHeadOK bool

	// Reason holds user guidance when State is HeadRefused.
	Reason string
}

// HeadInputs are the observed facts the evaluation runs on. The worktree
// probe is only invoked when the decision actually depends on it.
type HeadInputs struct {
	Bare  bool
	Force bool

	// BranchName is the checked out branch; empty for a detached HEAD.
	BranchName string
	// BranchHash is the branch's current target; empty for an unborn branch.
	BranchHash string

	// BundleRefs are the references the bundle carries.
	BundleRefs []repo.Ref

	// WorktreeClean probes whether the working tree has uncommitted changes.
	WorktreeClean func() (bool, error)
}

// PlanHead decides how HEAD must be treated while a bundle is applied. It is
// evaluated once per bundle, before any mutation, and both non-trivial
// outcomes are idempotent under retry.
func PlanHead(in HeadInputs) (HeadPlan, error) {
	// A bare repository has no working tree to endanger, and a detached HEAD
	// is not moved by any reference update.
	if in.Bare || in.BranchName == "" {
		return HeadPlan{State: HeadUntouched}, nil
	}

	var target *repo.Ref
	want := "refs/heads/" + in.BranchName
	for i := range in.BundleRefs {
		if in.BundleRefs[i].Name == want {
			target = &in.BundleRefs[i]
			break
		}
	}

	if target == nil {
		// The bundle deletes the checked out branch.
		if in.Force {
			return HeadPlan{State: HeadDetached, UpdateHeadOK: true}, nil
		}
		return HeadPlan{
			State: HeadRefused,
			Reason: "the currently checked out branch would be deleted. Please change to a different branch or use " +
				"--force to force your current branch to be removed nonetheless (this will leave you with a detached HEAD).",
		}, nil
	}

	if target.Hash == in.BranchHash {
		// The checked out branch is not moved. git would still complain
		// about fetching into it, so explicitly allow it to do nothing.
		return HeadPlan{State: HeadUntouched, UpdateHeadOK: true}, nil
	}

	clean := in.Force
	if !clean {
		var err error
		if clean, err = in.WorktreeClean(); err != nil {
			return HeadPlan{}, err
		}
	}
	if clean {
		// Land the new target on the branch with an explicit hard reset, so
		// the bulk fetch sees HEAD already settled. This also covers an
		// unborn branch in a new repository.
		return HeadPlan{State: HeadFastForwarded, ResetTo: target.Hash, UpdateHeadOK: true}, nil
	}

	return HeadPlan{
		State: HeadRefused,
		Reason: "the currently checked out branch would be updated. Please stash your changes and clean your " +
			"worktree (also remove untracked files) or use --force to force your current branch to be updated " +
			"nonetheless (THIS WILL DELETE ALL UNCOMMITTED CHANGES!).",
	}, nil
}
