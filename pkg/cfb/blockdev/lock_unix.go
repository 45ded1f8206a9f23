//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package blockdev

import (
	"errors"
	"fmt"
	"os"

	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"golang.org/x/sys/unix"
)

// lockFile takes a non-blocking flock on the whole file.
func lockFile(f *os.File, exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}

	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return fmt.Errorf("%w: file is locked by another process", common.ErrAccessDenied)
	}
	return err
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
