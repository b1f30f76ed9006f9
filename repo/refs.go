package repo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/refbundle/refbundle/common/errors"
)

// Ref is a git reference: a full name (e.g. "refs/heads/main") and the hash
// of the commit it points at.
type Ref struct {
	Hash string
	Name string
}

func (r Ref) String() string {
	return r.Name + ": " + r.Hash
}

// IsTag reports whether r lives under the tag namespace.
func (r Ref) IsTag() bool {
	return strings.HasPrefix(r.Name, "refs/tags/")
}

// The pattern to parse the output of show-ref and ls-remote.
var refPattern = regexp.MustCompile(`^([a-fA-F0-9]+)\s+(.*)$`)

// ParseRefLine parses a single line of show-ref(-like) output.
func ParseRefLine(line string) (Ref, error) {
	m := refPattern.FindStringSubmatch(line)
	if m == nil {
		return Ref{}, errors.NewError(
			fmt.Errorf("unexpected error in communication with git: parsing show-ref(-like) output failed on: %q", line),
			errors.GitProtocolExitCode)
	}
	return Ref{Hash: m[1], Name: m[2]}, nil
}

func parseRefLines(lines []string) ([]Ref, error) {
	refs := make([]Ref, 0, len(lines))
	for _, line := range lines {
		ref, err := ParseRefLine(line)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// ErrNoRefs reports that the repository exists but has no branches at all.
var ErrNoRefs error = errors.NewError(
	fmt.Errorf("the repository has no branches to back up"),
	errors.GitCallFailedExitCode)

// HeadRefs lists all branch references in r, plus all tag references when
// withTags is set. A repository without any branches yields ErrNoRefs.
func (r *Repository) HeadRefs(withTags bool) ([]Ref, error) {
	args := []string{"show-ref", "--heads"}
	if withTags {
		args = append(args, "--tags")
	}
	lines, err := r.Run(args...)
	if err != nil {
		// show-ref exits non-zero both for broken repositories and for a
		// repository that merely has nothing to show.
		if len(r.TryRun("rev-parse", "--git-dir")) > 0 {
			return nil, ErrNoRefs
		}
		return nil, err
	}
	return parseRefLines(lines)
}

// CurrentBranch returns the name of the checked out branch and its ref. An
// unborn branch (new repository) returns the name with a nil ref; a detached
// HEAD returns an empty name.
func (r *Repository) CurrentBranch() (string, *Ref, error) {
	lines, err := r.Run("branch", "--show-current")
	if err != nil {
		return "", nil, err
	}
	name := ""
	if len(lines) > 0 {
		name = lines[0]
	}
	if name == "" {
		return "", nil, nil
	}
	shown := r.TryRun("show-ref", "refs/heads/"+name)
	if len(shown) == 0 {
		return name, nil, nil
	}
	ref, err := ParseRefLine(shown[0])
	if err != nil {
		return "", nil, err
	}
	return name, &ref, nil
}

// ListRemoteRefs lists references in a remote repository, which may be a
// bundle file.
func ListRemoteRefs(path string, heads, tags bool) ([]Ref, error) {
	args := []string{"ls-remote"}
	if heads {
		args = append(args, "--heads")
	}
	if tags {
		args = append(args, "--tags")
	}
	args = append(args, path)
	lines, err := runGit(".", args...)
	if err != nil {
		return nil, err
	}
	return parseRefLines(lines)
}
