//go:build linux

package loop

import "golang.org/x/sys/unix"

// createWakeFd creates an eventfd used to wake the poller from Submit,
// ScheduleTimer (from another goroutine, via a task), or shutdown.
func createWakeFd() (read, write int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	return fd, fd, err
}
