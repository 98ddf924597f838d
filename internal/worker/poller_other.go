//go:build !linux

package worker

import "time"

// poller is the portable fallback where no epoll(7) equivalent is
// wired up: wait simply sleeps for the idle bound, matching the
// pre-epoll timer-bounded wakeup behavior on platforms other than
// Linux.
type poller struct{}

func newPoller() (*poller, error) { return &poller{}, nil }

func (p *poller) add(fd int) error    { return nil }
func (p *poller) remove(fd int) error { return nil }
func (p *poller) wake()               {}

func (p *poller) wait(timeout time.Duration) ([]int, error) {
	time.Sleep(timeout)
	return nil, nil
}

func (p *poller) close() error { return nil }
