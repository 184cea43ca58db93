//go:build linux

package reactor

import "golang.org/x/sys/unix"

// createWakeFd creates the wake mechanism for Linux: a single eventfd serves
// as both ends, since writing its counter makes it poll readable.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}
