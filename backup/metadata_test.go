package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/refbundle/refbundle/repo"
)

func TestLoadMetadataMissingFile(t *testing.T) {
	m, err := LoadMetadata(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Equal(t, metadataVersion, m.Version)
	require.Empty(t, m.KnownTagRefs)
}

func TestLoadMetadataRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	_, err := LoadMetadata(path)
	require.Error(t, err)
}

func TestLoadMetadataRejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 2, "known_tag_refs": []}`), 0644))

	_, err := LoadMetadata(path)
	require.Error(t, err)
}

func TestLoadMetadataRejectsMissingVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"known_tag_refs": []}`), 0644))

	_, err := LoadMetadata(path)
	require.Error(t, err)
}

func TestMetadataRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")

	m := newMetadata()
	m.AddTags([]string{"refs/tags/v2", "refs/tags/v1"})
	m.SetRefs([]repo.Ref{
		{Hash: "aaa", Name: "refs/heads/main"},
		{Hash: "bbb", Name: "refs/tags/v1"},
	})
	require.NoError(t, m.Save(path))

	loaded, err := LoadMetadata(path)
	require.NoError(t, err)
	require.Equal(t, []string{"refs/tags/v1", "refs/tags/v2"}, loaded.KnownTagRefs)
	require.Equal(t, []repo.Ref{
		{Hash: "aaa", Name: "refs/heads/main"},
		{Hash: "bbb", Name: "refs/tags/v1"},
	}, loaded.BaselineRefs())
}

func TestMetadataAddTagsIsAppendOnly(t *testing.T) {
	m := newMetadata()
	m.AddTags([]string{"refs/tags/v1"})
	m.AddTags([]string{"refs/tags/v1", "refs/tags/v2"})
	require.Equal(t, []string{"refs/tags/v1", "refs/tags/v2"}, m.KnownTagRefs)

	registry := m.TagRegistry()
	require.True(t, registry["refs/tags/v1"])
	require.True(t, registry["refs/tags/v2"])
	require.False(t, registry["refs/tags/v3"])
}

func TestMetadataSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")

	m := newMetadata()
	require.NoError(t, m.Save(path))

	// No temp droppings next to the record.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
