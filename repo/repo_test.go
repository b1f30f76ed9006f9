package repo

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func gitOut(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func initSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitOut(t, dir, "-c", "init.defaultBranch=main", "init", "-q", ".")
	return dir
}

func commitFile(t *testing.T, dir, name, content, message string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	gitOut(t, dir, "add", "-A")
	gitOut(t, dir, "-c", "user.name=tester", "-c", "user.email=tester@example.com",
		"commit", "-q", "-m", message)
	return gitOut(t, dir, "rev-parse", "HEAD")
}

func TestSplitLines(t *testing.T) {
	require.Nil(t, splitLines(""))
	require.Equal(t, []string{"one"}, splitLines("one\n"))
	require.Equal(t, []string{"one", "two"}, splitLines("one\ntwo"))
	require.Equal(t, []string{"one", "", "two"}, splitLines("one\n\ntwo\n"))
}

func TestExclusionList(t *testing.T) {
	require.Nil(t, exclusionList(nil))
	require.Equal(t, []string{"--not", "a", "b"}, exclusionList([]string{"a", "b"}))
}

func TestMissingOrEmpty(t *testing.T) {
	dir := t.TempDir()
	missing, err := MissingOrEmpty(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	require.True(t, missing)

	missing, err = MissingOrEmpty(dir)
	require.NoError(t, err)
	require.True(t, missing)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), []byte("x"), 0644))
	missing, err = MissingOrEmpty(dir)
	require.NoError(t, err)
	require.False(t, missing)
}

func TestInitAndIsBare(t *testing.T) {
	requireGit(t)
	plain, err := Init(filepath.Join(t.TempDir(), "plain"), false)
	require.NoError(t, err)
	bare, err := Init(filepath.Join(t.TempDir(), "bare"), true)
	require.NoError(t, err)

	isBare, err := plain.IsBare()
	require.NoError(t, err)
	require.False(t, isBare)
	isBare, err = bare.IsBare()
	require.NoError(t, err)
	require.True(t, isBare)
}

func TestHeadRefs(t *testing.T) {
	requireGit(t)
	dir := initSource(t)
	r := Open(dir)

	_, err := r.HeadRefs(false)
	require.ErrorIs(t, err, ErrNoRefs)

	c1 := commitFile(t, dir, "file.txt", "first", "first")
	gitOut(t, dir, "tag", "v1")

	refs, err := r.HeadRefs(false)
	require.NoError(t, err)
	require.Equal(t, []Ref{{Hash: c1, Name: "refs/heads/main"}}, refs)

	refs, err = r.HeadRefs(true)
	require.NoError(t, err)
	require.Equal(t, []Ref{
		{Hash: c1, Name: "refs/heads/main"},
		{Hash: c1, Name: "refs/tags/v1"},
	}, refs)
}

func TestCurrentBranch(t *testing.T) {
	requireGit(t)
	dir := initSource(t)
	r := Open(dir)

	// Unborn branch: a name but no ref yet.
	name, ref, err := r.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "main", name)
	require.Nil(t, ref)

	c1 := commitFile(t, dir, "file.txt", "first", "first")
	name, ref, err = r.CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "main", name)
	require.NotNil(t, ref)
	require.Equal(t, c1, ref.Hash)

	gitOut(t, dir, "checkout", "-q", "--detach")
	name, ref, err = r.CurrentBranch()
	require.NoError(t, err)
	require.Empty(t, name)
	require.Nil(t, ref)
}

func TestWorktreeClean(t *testing.T) {
	requireGit(t)
	dir := initSource(t)
	r := Open(dir)

	clean, err := r.WorktreeClean()
	require.NoError(t, err)
	require.True(t, clean)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0644))
	clean, err = r.WorktreeClean()
	require.NoError(t, err)
	require.False(t, clean)
}

func TestHistoryQueries(t *testing.T) {
	requireGit(t)
	dir := initSource(t)
	r := Open(dir)
	c1 := commitFile(t, dir, "file.txt", "first", "first")
	c2 := commitFile(t, dir, "file.txt", "second", "second")

	reachable, err := r.ReachableFrom(c2)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{c1, c2}, reachable)

	fresh, err := r.NewCommits([]string{c2}, []string{c1})
	require.NoError(t, err)
	require.Equal(t, []string{c2}, fresh)

	parent, ok := r.ParentOf(c2)
	require.True(t, ok)
	require.Equal(t, c1, parent)
	_, ok = r.ParentOf(c1)
	require.False(t, ok)

	require.True(t, r.HasCommit(c1))
	require.False(t, r.HasCommit("0123456789012345678901234567890123456789"))
}

func TestCreateAndVerifyBundle(t *testing.T) {
	requireGit(t)
	dir := initSource(t)
	r := Open(dir)
	c1 := commitFile(t, dir, "file.txt", "first", "first")
	commitFile(t, dir, "file.txt", "second", "second")

	// The parent directory is created on demand.
	bundle := filepath.Join(t.TempDir(), "nested", "incr.bundle")
	require.NoError(t, r.CreateBundle(bundle, []string{"refs/heads/main"}, []string{c1}))

	require.NoError(t, r.VerifyBundle(bundle))
	scratch, err := Init(filepath.Join(t.TempDir(), "scratch"), true)
	require.NoError(t, err)
	require.Error(t, scratch.VerifyBundle(bundle))
}

func TestClone(t *testing.T) {
	requireGit(t)
	src := initSource(t)
	c1 := commitFile(t, src, "file.txt", "first", "first")

	clone, err := Clone(src, filepath.Join(t.TempDir(), "clone"), false)
	require.NoError(t, err)
	refs, err := clone.HeadRefs(false)
	require.NoError(t, err)
	require.Equal(t, []Ref{{Hash: c1, Name: "refs/heads/main"}}, refs)

	// A no-checkout clone leaves the worktree empty.
	_, err = os.Stat(filepath.Join(clone.Dir(), "file.txt"))
	require.True(t, os.IsNotExist(err))
}
