package proc

import (
	"golang.org/x/sys/unix"
)

// KernelRelease returns the running kernel's release string, e.g.
// "6.1.0-13-amd64".
func KernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}
