// Package control is corenet's control plane: a live, reloadable
// configuration store, a metrics registry backed by prometheus, and a
// debug probe registry exposed through Core.Stats.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// corenet.Core owns exactly one ConfigStore, one MetricsRegistry, and
// one DebugProbes instance (see corenet_control.go) — there is no
// interface indirection here, since there is only ever one Core per
// process.
package control
