//go:build linux

package worker

import (
	"time"

	"golang.org/x/sys/unix"
)

// poller wraps a Linux epoll(7) instance in edge-triggered mode, per
// spec §4.4/§5's "multiplexed wait on its notifier set... edge-
// triggered" requirement for ModePollable. A private eventfd is always
// registered alongside caller-added fds so submit/stop can wake a
// blocked epoll_wait without either of them needing to know about fds
// at all.
type poller struct {
	epfd   int
	wakeFd int
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	p := &poller{epfd: epfd, wakeFd: wakeFd}
	if err := p.add(wakeFd); err != nil {
		_ = p.close()
		return nil, err
	}
	return p, nil
}

// add registers fd for edge-triggered readability notifications.
func (p *poller) add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// remove drops fd from the epoll set, e.g. once its owning ring channel closes.
func (p *poller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wake makes a concurrent or subsequent wait return promptly.
func (p *poller) wake() {
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(p.wakeFd, buf[:])
}

// wait blocks until a registered fd becomes readable or timeout
// elapses, returning the ready fds (excluding the internal wake fd,
// which it drains silently).
func (p *poller) wait(timeout time.Duration) ([]int, error) {
	var events [16]unix.EpollEvent
	ms := int(timeout / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}
	n, err := unix.EpollWait(p.epfd, events[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == p.wakeFd {
			p.drainWake()
			continue
		}
		ready = append(ready, fd)
	}
	return ready, nil
}

func (p *poller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func (p *poller) close() error {
	_ = unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
