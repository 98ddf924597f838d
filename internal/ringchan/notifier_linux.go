//go:build linux

package ringchan

import (
	"golang.org/x/sys/unix"
)

// eventfdNotifier wraps a Linux eventfd(2) object in semaphore mode:
// Signal adds 1, Wait blocks until the counter is non-zero and
// atomically drains it back to zero.
type eventfdNotifier struct {
	fd int
}

func newNotifier() notifier {
	fd, err := unix.Eventfd(0, unix.EFD_SEMAPHORE|unix.EFD_CLOEXEC)
	if err != nil {
		return newStubNotifier()
	}
	return &eventfdNotifier{fd: fd}
}

func (n *eventfdNotifier) Signal() {
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(n.fd, buf[:])
}

func (n *eventfdNotifier) Wait() {
	var buf [8]byte
	_, _ = unix.Read(n.fd, buf[:])
}

func (n *eventfdNotifier) Close() error {
	return unix.Close(n.fd)
}

func (n *eventfdNotifier) notifyFd() (int, bool) {
	return n.fd, true
}
