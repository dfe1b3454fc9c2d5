//go:build !linux

package entropy

import "crypto/rand"

// readSystemRandom fills buf from the platform CSPRNG.
func readSystemRandom(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}
