package staging

import (
	"errors"
	"io/fs"
)

// IsTransient reports whether a copy error is worth retrying: permission
// and lock errors raised while another process still holds the file.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, fs.ErrPermission) || isLockViolation(err)
}
