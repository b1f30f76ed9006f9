package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/refbundle/refbundle/common/errors"
	"github.com/refbundle/refbundle/repo"
)

// Backup creates incremental backup bundles from a source repository. The
// source is only ever read, apart from an optional remote refresh in mirror
// mode; no lock is taken.
type Backup struct {
	repo   *repo.Repository
	mirror bool
}

// NewBackup opens the source repository at dir, cloning it from remote when
// the directory is missing or empty. With mirror set a needed clone is a
// mirror clone and every backup is preceded by a remote update.
func NewBackup(dir, remote string, mirror bool) (*Backup, error) {
	missing, err := repo.MissingOrEmpty(dir)
	if err != nil {
		return nil, err
	}
	if missing {
		if remote == "" {
			return nil, errors.NewError(
				fmt.Errorf("repository %s does not yet exist, but no --remote to clone from was given", dir),
				errors.MissingRemoteExitCode)
		}
		log.Infof("cloning %s into new repository %s", remote, dir)
		r, err := repo.Clone(remote, dir, mirror)
		if err != nil {
			return nil, err
		}
		return &Backup{repo: r, mirror: mirror}, nil
	}
	return &Backup{repo: repo.Open(dir), mirror: mirror}, nil
}

// Options for a single backup run.
type Options struct {
	// Bundle is the file to write the backup to.
	Bundle string
	// StoredBundle is the bundle acting as the reference point for the
	// previous backup. Empty means the same path as Bundle.
	StoredBundle string
	// MetadataPath points at the metadata record. Tags are only backed up
	// when it is set.
	MetadataPath string
	// Timestamp adds a second-resolution UTC timestamp to the bundle name.
	Timestamp bool
	// SkipUnchanged suppresses the bundle entirely when it would contain
	// neither new commits nor reference changes.
	SkipUnchanged bool
}

// Perform creates a new incremental backup bundle. It reports whether a
// bundle file was written.
func (b *Backup) Perform(opts Options) (bool, error) {
	if b.mirror {
		if err := b.repo.RemoteUpdate(); err != nil {
			return false, err
		}
	}

	bundle := opts.Bundle
	if opts.Timestamp {
		bundle = timestampedPath(bundle, time.Now())
	}
	bundle, err := filepath.Abs(bundle)
	if err != nil {
		return false, err
	}
	stored := opts.StoredBundle
	if stored == "" {
		stored = opts.Bundle
	}
	stored, err = filepath.Abs(stored)
	if err != nil {
		return false, err
	}

	var meta *Metadata
	if opts.MetadataPath != "" {
		if meta, err = LoadMetadata(opts.MetadataPath); err != nil {
			return false, err
		}
	}
	trackTags := meta != nil

	// All local references go into the bundle: this is what lets a fetch
	// with pruning mirror the branch set exactly. Tags only participate when
	// they can be tracked; they are exempt from pruning anyway.
	current, err := b.repo.HeadRefs(trackTags)
	if err != nil {
		return false, err
	}

	// The previous backup's targets come from the stored bundle itself, or
	// from the metadata baseline when the bundle is gone.
	var previous []repo.Ref
	if _, statErr := os.Stat(stored); statErr == nil {
		if previous, err = repo.ListRemoteRefs(stored, true, trackTags); err != nil {
			return false, err
		}
	} else if trackTags {
		previous = meta.BaselineRefs()
	}

	in := Inputs{Current: current, Previous: previous, TrackTags: trackTags}
	if trackTags {
		in.KnownTags = meta.TagRegistry()
	}
	result, err := Calculate(b.repo, in)
	if err != nil {
		return false, err
	}

	// A bundle without new commits is an odd case: it lacks ordering among
	// other incremental bundles, which can surprise during restores.
	if !result.HasNewCommits {
		if opts.SkipUnchanged {
			if !result.RefsChanged {
				log.Info("no changes detected. Not creating a new bundle, as requested.")
				return false, nil
			}
		} else {
			log.Warnf("bundle %s will not contain any new commits. Restoring this bundle will be a no-op and will "+
				"not update any references. To force restoring the bundle anyway, pass the filename of the exact "+
				"bundle (as opposed to the directory containing it) and --force when restoring.", bundle)
		}
	}

	names := make([]string, len(result.Spec.IncludeRefs))
	for i, ref := range result.Spec.IncludeRefs {
		names[i] = ref.Name
	}
	if err := b.repo.CreateBundle(bundle, names, result.Spec.ExcludeCommits); err != nil {
		return false, err
	}

	// Save the bundle and its metadata as reference points for the next
	// incremental backup.
	if bundle != stored {
		if err := copyFile(bundle, stored); err != nil {
			return false, err
		}
	}
	if trackTags {
		meta.AddTags(result.NewTagRefs)
		meta.SetRefs(result.Snapshot)
		if err := meta.Save(opts.MetadataPath); err != nil {
			return false, err
		}
		log.Infof("written backup metadata to %s", opts.MetadataPath)
	}
	return true, nil
}

func timestampedPath(path string, now time.Time) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	stamp := now.UTC().Format("2006-01-02T15:04:05-07:00")
	return filepath.Join(filepath.Dir(path), fmt.Sprintf("%s.%sZ%s", stem, stamp, ext))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
