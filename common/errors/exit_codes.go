package errors

type ExitCode int

const (
	// ArgumentErrorExitCode signals that the command line arguments were not valid.
	ArgumentErrorExitCode ExitCode = 2

	// NothingRestoredExitCode signals that no bundles could be restored.
	NothingRestoredExitCode ExitCode = 3

	// MissingRemoteExitCode signals that the repository to back up from did not
	// exist and no remote to clone it from was given.
	MissingRemoteExitCode ExitCode = 4

	// GitProtocolExitCode signals an unexpected response in the communication
	// with git. Note that this is not a failed git call, see
	// GitCallFailedExitCode for that.
	GitProtocolExitCode ExitCode = 5

	// GitCallFailedExitCode signals that a call to git that was expected to
	// succeed returned a non-zero exit code.
	GitCallFailedExitCode ExitCode = 6

	// UnclassifiedExitCode signals an unexpected fault.
	UnclassifiedExitCode ExitCode = 100
)
