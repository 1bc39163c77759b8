// Package rt applies real-time scheduling settings to the calling thread.
//
// Settings are best effort: without CAP_SYS_NICE / CAP_IPC_LOCK the kernel
// refuses them and the process keeps running with default scheduling.
package rt

// Settings selects the real-time treatment of the cyclic thread.
type Settings struct {
	// Priority is the SCHED_FIFO priority (1..99); 0 leaves the scheduler alone.
	Priority int
	// LockMemory locks current and future pages into RAM.
	LockMemory bool
}
