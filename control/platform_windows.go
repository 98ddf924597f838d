//go:build windows
// +build windows

// control/platform_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows debug probes. internal/worker has no epoll equivalent here
// (internal/worker/poller_other.go's sleep-bounded stub is what's
// actually compiled in), so ModePollable workers degrade to a
// timer-bounded wait; the probe below makes that visible instead of
// silently different from the Linux build.

package control

import "runtime"

// RegisterPlatformProbes installs Windows-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.os", func() any { return "windows" })
	dp.RegisterProbe("platform.cpus", func() any { return runtime.NumCPU() })
	dp.RegisterProbe("platform.goroutines", func() any { return runtime.NumGoroutine() })
	dp.RegisterProbe("platform.epoll_pollable", func() any { return false })
}
