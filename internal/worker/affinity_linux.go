//go:build linux

package worker

import "golang.org/x/sys/unix"

// pinToCore best-effort pins the calling OS thread to a single physical
// core. The caller must have already called runtime.LockOSThread so the
// affinity mask isn't blown away by the goroutine migrating to another
// thread.
func pinToCore(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
