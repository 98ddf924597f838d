// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cross-platform OS thread pinning (PinCurrentThread) used by
// internal/worker to bind each runtime worker to a NUMA node and CPU
// core before it enters its poll loop.
package concurrency
