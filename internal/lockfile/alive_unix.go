//go:build unix

package lockfile

import (
	"errors"

	"golang.org/x/sys/unix"
)

// alive reports whether pid names a running process. EPERM means it exists
// but belongs to someone else.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
