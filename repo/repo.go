// Package repo drives git for the backup and restore operations. The history
// graph itself is never reimplemented here: every query and mutation goes
// through a git subprocess.
package repo

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/refbundle/refbundle/common/errors"
)

// Repository represents a git repository on disk.
type Repository struct {
	dir string
}

// Open returns a Repository for dir without validating its contents.
// git calls will simply fail later if dir is not a repository.
func Open(dir string) *Repository {
	return &Repository{dir: dir}
}

// Where r lives on disk
func (r *Repository) Dir() string {
	return r.dir
}

// Run runs a git command in r and returns its output lines. A non-zero exit
// from git becomes an ExitCodeError with GitCallFailedExitCode.
func (r *Repository) Run(args ...string) ([]string, error) {
	return runGit(r.dir, args...)
}

// TryRun runs a git command that is allowed to fail (e.g. rev-parse for a
// revision that may or may not resolve). A failed call yields no lines.
func (r *Repository) TryRun(args ...string) []string {
	lines, err := runGit(r.dir, args...)
	if err != nil {
		return nil
	}
	return lines
}

func runGit(dir string, args ...string) ([]string, error) {
	log.Debugf("calling: git %s", strings.Join(args, " "))
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	data, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			log.Debugf("call failed. stdout=%q, stderr=%q", string(data), string(exitErr.Stderr))
			return nil, errors.NewError(
				fmt.Errorf("call to git failed. git reported:\n%s\nRetry with -v for more information", string(exitErr.Stderr)),
				errors.GitCallFailedExitCode)
		}
		return nil, errors.NewError(fmt.Errorf("could not run git: %v", err), errors.GitCallFailedExitCode)
	}
	return splitLines(string(data)), nil
}

func splitLines(out string) []string {
	out = strings.TrimSuffix(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// exclusionList prepends to_exclude with --not for use as a rev-list
// exclusion, avoiding an empty --not clause.
func exclusionList(toExclude []string) []string {
	if len(toExclude) == 0 {
		return nil
	}
	return append([]string{"--not"}, toExclude...)
}

// IsBare reports whether r is a bare repository.
func (r *Repository) IsBare() (bool, error) {
	lines, err := r.Run("rev-parse", "--is-bare-repository")
	if err != nil {
		return false, err
	}
	result := ""
	if len(lines) > 0 {
		result = strings.TrimSpace(lines[0])
	}
	switch result {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, errors.NewError(
		fmt.Errorf("unexpected error in communication with git: rev-parse --is-bare-repository returned %q", result),
		errors.GitProtocolExitCode)
}

// WorktreeClean reports whether the working tree has no uncommitted or
// untracked changes. A new repository counts as clean.
func (r *Repository) WorktreeClean() (bool, error) {
	lines, err := r.Run("status", "--porcelain=1")
	if err != nil {
		return false, err
	}
	if len(lines) > 0 {
		log.Debugf("worktree is not clean. git status --porcelain=1 returned:\n%s", strings.Join(lines, "\n"))
		return false, nil
	}
	return true, nil
}

// ReachableFrom lists every commit reachable from rev, including rev itself.
func (r *Repository) ReachableFrom(rev string) ([]string, error) {
	return r.Run("rev-list", rev)
}

// NewCommits lists the commits reachable from include but not from exclude.
func (r *Repository) NewCommits(include, exclude []string) ([]string, error) {
	args := append([]string{"rev-list"}, include...)
	args = append(args, exclusionList(exclude)...)
	return r.Run(args...)
}

// ParentOf resolves the first parent of hash, reporting whether one exists.
func (r *Repository) ParentOf(hash string) (string, bool) {
	lines := r.TryRun("rev-parse", hash+"~1")
	if len(lines) == 0 {
		return "", false
	}
	return lines[0], true
}

// HasCommit reports whether hash resolves to a commit present in r.
func (r *Repository) HasCommit(hash string) bool {
	return len(r.TryRun("rev-list", "-n", "1", hash)) > 0
}

// CreateBundle writes a bundle file holding refNames minus everything
// reachable from exclude. References must be given by name, not hash: bundles
// are created for references, not for loose commits. Exclusions may be plain
// hashes. Parent directories of path are created.
func (r *Repository) CreateBundle(path string, refNames, exclude []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	args := append([]string{"bundle", "create", path}, refNames...)
	args = append(args, exclusionList(exclude)...)
	_, err := r.Run(args...)
	return err
}

// VerifyBundle checks a bundle file against r's object store.
func (r *Repository) VerifyBundle(path string) error {
	_, err := r.Run("bundle", "verify", path)
	return err
}

// Fetch runs git fetch with the given arguments.
func (r *Repository) Fetch(args ...string) error {
	_, err := r.Run(append([]string{"fetch"}, args...)...)
	return err
}

// HardReset resets the checked out branch and the working tree to rev.
func (r *Repository) HardReset(rev string) error {
	_, err := r.Run("reset", "--hard", rev)
	return err
}

// DetachHead leaves HEAD pointing directly at the current commit instead of
// at a branch.
func (r *Repository) DetachHead() error {
	_, err := r.Run("switch", "--detach")
	return err
}

// DeleteRef removes the reference name.
func (r *Repository) DeleteRef(name string) error {
	_, err := r.Run("update-ref", "-d", name)
	return err
}

// RemoteUpdate refreshes all remote-tracking references, pruning deleted ones.
func (r *Repository) RemoteUpdate() error {
	_, err := r.Run("remote", "update", "--prune")
	return err
}

// Init creates a repository in dir, creating dir itself if needed.
func Init(dir string, bare bool) (*Repository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	args := []string{"init"}
	if bare {
		args = append(args, "--bare")
	}
	args = append(args, ".")
	if _, err := runGit(dir, args...); err != nil {
		return nil, err
	}
	return &Repository{dir: dir}, nil
}

// Clone clones remote into dir. A mirror clone is made when mirror is set;
// otherwise the checkout is skipped, since a backup copy has no use for one.
func Clone(remote, dir string, mirror bool) (*Repository, error) {
	mode := "--no-checkout"
	if mirror {
		mode = "--mirror"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if _, err := runGit(".", "clone", "--no-hardlinks", mode, remote, dir); err != nil {
		return nil, err
	}
	return &Repository{dir: dir}, nil
}

// MissingOrEmpty reports whether dir does not exist or is an empty directory.
func MissingOrEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
