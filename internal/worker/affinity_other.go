//go:build !linux

package worker

// pinToCore is a no-op on platforms without a CPU affinity syscall.
func pinToCore(core int) error { return nil }
