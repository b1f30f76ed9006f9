package restore

import (
	"os"

	"github.com/pkg/errors"
)

// ErrLockHeld reports that the lock file already existed, i.e. the lock was
// not granted.
var ErrLockHeld = errors.New("the lock file already exists")

// Lock is a cooperative inter-process lock based on exclusive file creation.
// Only the file's existence matters; its content is irrelevant.
type Lock struct {
	path string
}

// AcquireLock atomically creates path. ErrLockHeld is returned when the file
// already exists.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLockHeld
		}
		return nil, err
	}
	f.Close()
	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}
