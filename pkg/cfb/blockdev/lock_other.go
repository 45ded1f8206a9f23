//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package blockdev

import "os"

// lockFile is a no-op on platforms without flock.
func lockFile(*os.File, bool) error { return nil }

func unlockFile(*os.File) error { return nil }
