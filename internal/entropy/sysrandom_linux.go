//go:build linux

package entropy

import (
	"crypto/rand"

	"golang.org/x/sys/unix"
)

// readSystemRandom fills buf from the kernel CSPRNG. getrandom(2) avoids a
// file descriptor; if the syscall is unsupported we fall back to crypto/rand.
func readSystemRandom(buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := unix.Getrandom(buf[off:], 0)
		if err == unix.ENOSYS {
			_, err = rand.Read(buf[off:])
			return err
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}
