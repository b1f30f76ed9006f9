package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/refbundle/refbundle/repo"
)

// metadataVersion is the only metadata file version this tool reads or
// writes. Data of another version must not be interpreted.
const metadataVersion = 1

// Metadata is the persisted record accompanying a backup: the append-only
// registry of tag names ever backed up, and the reference baseline of the
// last written bundle. The baseline is only consulted when the stored bundle
// itself is gone.
type Metadata struct {
	Version      int               `json:"version"`
	KnownTagRefs []string          `json:"known_tag_refs"`
	Refs         map[string]string `json:"refs,omitempty"`
}

func newMetadata() *Metadata {
	return &Metadata{Version: metadataVersion, KnownTagRefs: []string{}}
}

// LoadMetadata reads the metadata record at path. A missing file yields an
// empty record.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Infof("no previous backup metadata found at %s, using empty metadata", path)
		return newMetadata(), nil
	}
	if err != nil {
		return nil, err
	}
	m := Metadata{Version: -1}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "the metadata file is invalid")
	}
	if m.Version != metadataVersion {
		return nil, errors.Errorf("the metadata file is invalid: only version %d is supported", metadataVersion)
	}
	log.Infof("using previous backup metadata from %s", path)
	return &m, nil
}

// Save writes the record atomically: a temporary file in the same directory
// is renamed over path.
func (m *Metadata) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// TagRegistry returns the registry as a lookup set.
func (m *Metadata) TagRegistry() map[string]bool {
	registry := make(map[string]bool, len(m.KnownTagRefs))
	for _, name := range m.KnownTagRefs {
		registry[name] = true
	}
	return registry
}

// AddTags records newly backed up tag names. Names already present are kept
// as-is; nothing is ever removed.
func (m *Metadata) AddTags(names []string) {
	known := m.TagRegistry()
	for _, name := range names {
		if !known[name] {
			known[name] = true
			m.KnownTagRefs = append(m.KnownTagRefs, name)
		}
	}
	sort.Strings(m.KnownTagRefs)
}

// SetRefs replaces the reference baseline.
func (m *Metadata) SetRefs(refs []repo.Ref) {
	m.Refs = make(map[string]string, len(refs))
	for _, ref := range refs {
		m.Refs[ref.Name] = ref.Hash
	}
}

// BaselineRefs returns the recorded baseline, sorted by name.
func (m *Metadata) BaselineRefs() []repo.Ref {
	refs := make([]repo.Ref, 0, len(m.Refs))
	for name, hash := range m.Refs {
		refs = append(refs, repo.Ref{Hash: hash, Name: name})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs
}
