//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux debug probes: CPU count, live goroutine count, and a flag
// confirming the
// epoll(7)-backed ModePollable path (internal/worker/poller_linux.go)
// is the one actually compiled in.

package control

import "runtime"

// RegisterPlatformProbes installs Linux-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.os", func() any { return "linux" })
	dp.RegisterProbe("platform.cpus", func() any { return runtime.NumCPU() })
	dp.RegisterProbe("platform.goroutines", func() any { return runtime.NumGoroutine() })
	dp.RegisterProbe("platform.epoll_pollable", func() any { return true })
}
