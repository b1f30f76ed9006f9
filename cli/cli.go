// Package cli builds the cobra command tree for the refbundle binary.
//
// Each subcommand is a small struct implementing command: register() creates
// the cobra command and binds the flags, run() does the work. MakeCLI wires
// them under the root command with a RunE wrapper.
package cli

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/refbundle/refbundle/backup"
	"github.com/refbundle/refbundle/common/errors"
	"github.com/refbundle/refbundle/restore"
)

// MakeCLI creates the root command with the create and restore subcommands.
func MakeCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "refbundle",
		Short:         "incremental git repository backups using git bundle",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Unknown actions must reach RunE below, which classifies them as
		// argument errors instead of cobra's unclassified unknown-command
		// failure.
		Args: cobra.ArbitraryArgs,
	}

	var verbose bool
	var logLevel string
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"provide debugging level output, including the underlying calls to git and the output of any such calls that failed")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "info", "log everything at this level and above (error|info|debug)")
	rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return errors.NewError(err, errors.ArgumentErrorExitCode)
		}
		if verbose {
			level = log.DebugLevel
		}
		log.SetLevel(level)
		return nil
	}

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.NewError(err, errors.ArgumentErrorExitCode)
	})
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		_ = cmd.Help()
		if len(args) == 0 {
			return errors.NewError(fmt.Errorf("an action is required"), errors.ArgumentErrorExitCode)
		}
		return errors.NewError(fmt.Errorf("unknown action: %s", args[0]), errors.ArgumentErrorExitCode)
	}

	add := func(sub command, parent *cobra.Command) {
		cmd := sub.register()
		cmd.RunE = func(innerCmd *cobra.Command, args []string) error {
			return sub.run(innerCmd, args)
		}
		parent.AddCommand(cmd)
	}
	add(&createCommand{}, rootCmd)
	add(&restoreCommand{}, rootCmd)

	return rootCmd
}

type command interface {
	register() *cobra.Command
	run(cmd *cobra.Command, args []string) error
}

// exactArgs is cobra.ExactArgs with the failure classified as an argument
// error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return errors.NewError(err, errors.ArgumentErrorExitCode)
		}
		return nil
	}
}

type createCommand struct {
	remote         string
	previousBundle string
	metadata       string
	mirror         bool
	timestamp      bool
	skipUnchanged  bool
}

func (c *createCommand) register() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <repo> <bundle>",
		Short: "create an (incremental) backup of a repository to a bundle file",
		Args:  exactArgs(2),
	}
	cmd.Flags().StringVarP(&c.remote, "remote", "r", "",
		"the remote repository to clone if <repo> points to an empty or non-existent directory")
	cmd.Flags().StringVarP(&c.previousBundle, "previous-bundle-location", "p", "",
		"the location to store the latest bundle, the reference point for incremental backups (defaults to <bundle>)")
	cmd.Flags().StringVarP(&c.metadata, "metadata", "m", "",
		"read and write backup metadata at this file; tags are only backed up when a metadata file is used")
	cmd.Flags().BoolVarP(&c.mirror, "mirror", "M", false,
		"assume the repository to have been cloned in mirror mode and trigger a remote update before backing up")
	cmd.Flags().BoolVarP(&c.timestamp, "timestamp", "t", false,
		"add a timestamp (with second resolution) to the name of the created bundle file")
	cmd.Flags().BoolVarP(&c.skipUnchanged, "skip-unchanged", "s", false,
		"do not create a bundle if it would contain no (incremental) changes")
	return cmd
}

func (c *createCommand) run(_ *cobra.Command, args []string) error {
	b, err := backup.NewBackup(args[0], c.remote, c.mirror)
	if err != nil {
		return err
	}
	written, err := b.Perform(backup.Options{
		Bundle:        args[1],
		StoredBundle:  c.previousBundle,
		MetadataPath:  c.metadata,
		Timestamp:     c.timestamp,
		SkipUnchanged: c.skipUnchanged,
	})
	if err != nil {
		return err
	}
	if written {
		log.Infof("created backup bundle %s", args[1])
	}
	return nil
}

type restoreCommand struct {
	bare        bool
	force       bool
	strictOrder bool
	prune       bool
	deleteFiles bool
	lockFile    string
}

func (c *restoreCommand) register() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <repo> <bundle>",
		Short: "restore the contents of one or more bundle files to a repository",
		Args:  exactArgs(2),
	}
	cmd.Flags().BoolVarP(&c.bare, "bare", "b", false,
		"if a repository is created to restore to, make it a bare repository")
	cmd.Flags().BoolVarP(&c.force, "force", "f", false,
		"force updates to all branches, even if the update is not a fast-forward or your worktree is not clean")
	cmd.Flags().BoolVarP(&c.strictOrder, "strict-order", "s", false,
		"process bundle files in a directory strictly in order of their filenames, stopping at the first failure")
	cmd.Flags().BoolVarP(&c.prune, "prune", "p", false,
		"remove any branches that are not in the bundle")
	cmd.Flags().BoolVarP(&c.deleteFiles, "delete-files", "d", false,
		"delete bundles from which data has been restored")
	cmd.Flags().StringVarP(&c.lockFile, "lock-file", "l", "",
		"create a lock file while restoring; if the lock file already exists, exit with exit code 0 instead")
	return cmd
}

func (c *restoreCommand) run(_ *cobra.Command, args []string) error {
	if c.lockFile != "" {
		lock, err := restore.AcquireLock(c.lockFile)
		if err == restore.ErrLockHeld {
			log.Warnf("could not obtain lock file %s. Not restoring anything.", c.lockFile)
			return nil
		}
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	r, err := restore.NewRestoration(args[0], restore.Options{
		Bare:        c.bare,
		Force:       c.force,
		Prune:       c.prune,
		DeleteFiles: c.deleteFiles,
	})
	if err != nil {
		return err
	}
	count, err := r.Restore(args[1], c.strictOrder)
	if err != nil {
		return err
	}

	if r.Restored() == 0 {
		log.Error("restoring bundles to repository failed: no bundles were restored")
		return errors.NewError(fmt.Errorf("no bundles were restored"), errors.NothingRestoredExitCode)
	}
	if r.Restored() != count {
		log.Warnf("%d bundles could not be restored.", count-r.Restored())
	}
	log.Infof("restored %d bundles", r.Restored())
	return nil
}
