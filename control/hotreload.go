// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Process-wide reload hooks, complementing ConfigStore.OnReload for
// components that aren't scoped to one Core (e.g. a CLI's SIGHUP
// handler shared across every Core the process happens to own).

package control

import "sync"

var (
	reloadMu    sync.Mutex
	reloadHooks []func()
)

// RegisterReloadHook adds a process-wide reload listener.
func RegisterReloadHook(fn func()) {
	reloadMu.Lock()
	defer reloadMu.Unlock()
	reloadHooks = append(reloadHooks, fn)
}

// TriggerHotReload dispatches every registered process-wide hook in
// its own goroutine. Core.Reconfigure calls this after updating its
// own ConfigStore.
func TriggerHotReload() {
	reloadMu.Lock()
	hooks := make([]func(), len(reloadHooks))
	copy(hooks, reloadHooks)
	reloadMu.Unlock()
	for _, fn := range hooks {
		go fn()
	}
}
