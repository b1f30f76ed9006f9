package restore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/refbundle/refbundle/common/errors"
	"github.com/refbundle/refbundle/repo"
)

// Options for a restoration run.
type Options struct {
	// Bare makes a newly created target repository bare.
	Bare bool
	// Force allows updates that are not fast-forward, updates to the checked
	// out branch with a dirty worktree, and deleting the checked out branch.
	Force bool
	// Prune removes branches that are not in the bundle being applied.
	Prune bool
	// DeleteFiles removes bundle files once their content is restored.
	DeleteFiles bool
}

// Restoration applies one or more bundles to a target repository.
type Restoration struct {
	repo *repo.Repository
	opts Options

	isBare     bool
	branchName string
	branchHash string

	skip     map[string]bool
	restored int
}

// NewRestoration opens the target repository at dir, initializing a new one
// when the directory is missing or empty.
func NewRestoration(dir string, opts Options) (*Restoration, error) {
	missing, err := repo.MissingOrEmpty(dir)
	if err != nil {
		return nil, err
	}
	var r *repo.Repository
	if missing {
		log.Infof("creating new repository in %s", dir)
		if r, err = repo.Init(dir, opts.Bare); err != nil {
			return nil, err
		}
	} else {
		r = repo.Open(dir)
	}

	restoration := &Restoration{repo: r, opts: opts, skip: make(map[string]bool)}
	if restoration.isBare, err = r.IsBare(); err != nil {
		return nil, err
	}
	if err := restoration.readHead(); err != nil {
		return nil, err
	}
	return restoration, nil
}

// readHead refreshes the view of the checked out branch. It runs once at
// start and again after every mutation, since a restore may have moved,
// deleted or detached the branch.
func (r *Restoration) readHead() error {
	name, ref, err := r.repo.CurrentBranch()
	if err != nil {
		return err
	}
	r.branchName = name
	r.branchHash = ""
	if ref != nil {
		r.branchHash = ref.Hash
	}
	return nil
}

// Restored returns how many bundles this run restored.
func (r *Restoration) Restored() int {
	return r.restored
}

// Restore applies the bundle file at path, or every *.bundle file in it when
// path is a directory. Without strictOrder the candidates are processed in
// passes by sorted name, rescanning the leftovers after every pass that
// restored something: an earlier failure may have been nothing more than a
// missing predecessor. With strictOrder the sorted order is authoritative
// and the first failure ends the run. Restore returns the number of
// candidate bundles found.
func (r *Restoration) Restore(path string, strictOrder bool) (int, error) {
	bundles, isFile, err := listBundles(path)
	if err != nil {
		return 0, err
	}
	log.Infof("found %d bundles to restore", len(bundles))

	references := make(map[string][]repo.Ref, len(bundles))
	for _, bundle := range bundles {
		if references[bundle], err = repo.ListRemoteRefs(bundle, true, true); err != nil {
			return len(bundles), err
		}
	}

	// A single file can be force-restored, to recover from (some) errors.
	// Files in a directory can too when processed in strict order: the fixed
	// ordering is proof enough of authority and freshness, which allows
	// mirroring a repository through a stream of reference-only updates.
	applyForce := r.opts.Force && (strictOrder || isFile)

	// Fixpoint over the candidates, bounded by the candidate count: each
	// extra pass only runs if the previous one restored something new.
	for pass := 0; pass <= len(bundles); pass++ {
		again := false
		for _, bundle := range bundles {
			if r.skip[bundle] {
				continue
			}

			// A bundle whose commits are all present already is marked
			// restored without touching the repository. That quietly retires
			// outdated bundles that would otherwise fail the fetch. The
			// negative can't be cached: restoring some other bundle may
			// supply exactly the commits this one was missing.
			if !applyForce && r.allAvailable(references[bundle]) {
				log.Warnf("bundle %s has already been restored", bundle)
				again = r.markRestored(bundle, true) || again
				continue
			}

			plan, err := PlanHead(HeadInputs{
				Bare:          r.isBare,
				Force:         r.opts.Force,
				BranchName:    r.branchName,
				BranchHash:    r.branchHash,
				BundleRefs:    references[bundle],
				WorktreeClean: r.repo.WorktreeClean,
			})
			if err != nil {
				return len(bundles), err
			}
			log.Debugf("HEAD treatment for bundle %s: %s", bundle, plan.State)

			if plan.State == HeadRefused {
				log.Warn(plan.Reason)
				log.Warnf("bundle %s can't be restored: it would update the currently checked out branch. "+
					"This is only allowed with --force.", bundle)
				// This issue remains no matter how many other bundles are
				// restored.
				r.skip[bundle] = true
				if strictOrder {
					return len(bundles), nil
				}
				continue
			}

			ok, err := r.applyBundle(bundle, references[bundle], plan)
			if err != nil {
				return len(bundles), err
			}
			if !ok {
				if strictOrder {
					return len(bundles), nil
				}
				continue
			}

			if err := r.readHead(); err != nil {
				return len(bundles), err
			}
			again = r.markRestored(bundle, false) || again
		}
		if strictOrder || !again {
			break
		}
	}
	return len(bundles), nil
}

// listBundles resolves path to the candidate bundle files, sorted by name as
// a proxy for chronological order. It also reports whether path was a single
// file.
func listBundles(path string) ([]string, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if !info.IsDir() {
		return []string{path}, true, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, false, err
	}
	var bundles []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".bundle" {
			bundles = append(bundles, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(bundles)
	return bundles, false, nil
}

func (r *Restoration) allAvailable(refs []repo.Ref) bool {
	for _, ref := range refs {
		if !r.repo.HasCommit(ref.Hash) {
			return false
		}
	}
	return true
}

// markRestored retires a bundle, deleting its file when requested. It
// reports whether the success warrants another pass over the leftovers.
func (r *Restoration) markRestored(bundle string, wasAlreadyRestored bool) bool {
	r.skip[bundle] = true
	if r.opts.DeleteFiles {
		if err := os.Remove(bundle); err != nil {
			log.Warnf("could not delete restored bundle %s: %v", bundle, err)
		}
	}
	if !wasAlreadyRestored {
		r.restored++
		return true
	}
	if r.opts.DeleteFiles {
		r.restored++
	}
	return false
}

// applyBundle verifies, dry-runs and finally applies a single bundle. A
// failed verification or dry-run classifies the bundle as "retry later"
// (false, nil); once the dry-run has passed, every remaining step is
// expected to succeed and a failure is fatal.
func (r *Restoration) applyBundle(bundle string, refs []repo.Ref, plan HeadPlan) (bool, error) {
	abs, err := filepath.Abs(bundle)
	if err != nil {
		return false, err
	}

	fetchArgs := []string{"--atomic", "--tags", "--no-write-fetch-head"}
	if r.opts.Prune {
		fetchArgs = append(fetchArgs, "--prune")
	}
	if r.opts.Force {
		fetchArgs = append(fetchArgs, "--force", "--update-head-ok")
	}
	if plan.UpdateHeadOK && !r.opts.Force {
		fetchArgs = append(fetchArgs, "--update-head-ok")
	}
	fetchArgs = append(fetchArgs, abs)
	// Branches are mirrored 1:1. Tags must be merged in one by one: a
	// refs/tags/*:refs/tags/* refspec would start purging tags under
	// --prune, and retagging is not supported anyway. Note the absence of
	// --prune-tags above for the same reason; a tag is final.
	fetchArgs = append(fetchArgs, "refs/heads/*:refs/heads/*")
	for _, ref := range refs {
		if ref.IsTag() {
			fetchArgs = append(fetchArgs, ref.Name+":"+ref.Name)
		}
	}

	log.Infof("attempting to restore %s", bundle)

	// Verify and dry-run before mutating anything. That keeps a bundle that
	// cannot be processed available for a later attempt, instead of ending
	// up half-applied and then mistaken for fully restored.
	if err := r.repo.VerifyBundle(abs); err != nil {
		return false, retryLater(err)
	}
	if err := r.dryRunFetch(bundle, fetchArgs); err != nil {
		return false, retryLater(err)
	}

	if plan.ResetTo != "" {
		if r.branchName == "" {
			return false, errors.NewError(
				fmt.Errorf("internal inconsistency: a branch reset is planned but no branch is checked out"),
				errors.UnclassifiedExitCode)
		}
		// Pre-land the new target via a prefetch ref, hard-reset the branch
		// to it, and drop the scratch ref. The bulk fetch then finds the
		// branch already in place.
		refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", r.branchName, r.branchName)
		if err := r.repo.Fetch("--prefetch", "--no-write-fetch-head", abs, refspec); err != nil {
			return false, err
		}
		if err := r.repo.HardReset(plan.ResetTo); err != nil {
			return false, err
		}
		if err := r.repo.DeleteRef("refs/prefetch/heads/" + r.branchName); err != nil {
			return false, err
		}
	}
	if plan.State == HeadDetached {
		if err := r.repo.DetachHead(); err != nil {
			return false, err
		}
	}

	if err := r.repo.Fetch(fetchArgs...); err != nil {
		return false, err
	}

	log.Infof("restored bundle %s", bundle)
	return true, nil
}

// dryRunFetch attempts the fetch without mutating anything. When the
// non-forced dry-run fails, a forced retry distinguishes a non-fast-forward
// update (worth telling the user about) from genuinely missing data.
func (r *Restoration) dryRunFetch(bundle string, fetchArgs []string) error {
	err := r.repo.Fetch(append([]string{"--dry-run"}, fetchArgs...)...)
	if err == nil {
		return nil
	}
	if !r.opts.Force {
		if retryErr := r.repo.Fetch(append([]string{"--dry-run", "--force", "--update-head-ok"}, fetchArgs...)...); retryErr == nil {
			log.Warnf("bundle %s can't be restored. Updates to references that are not fast-forward are only "+
				"allowed with --force.", bundle)
		}
	}
	return err
}

// retryLater recovers a failed git call into the per-bundle "retry later"
// classification; anything else, a protocol violation in particular, stays
// fatal.
func retryLater(err error) error {
	if errors.CodeOf(err) == errors.GitCallFailedExitCode {
		return nil
	}
	return err
}
