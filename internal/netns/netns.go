// Package netns implements the namespace-switch primitive the subprocess
// executor uses to spawn a command inside a target network namespace.
//
// Entering a namespace mutates process-wide kernel state. Go runs
// goroutines across multiple OS threads, so unlike a strictly
// single-threaded source runtime, a concurrent spawn on another thread
// really could observe the wrong namespace. Switch is therefore guarded
// by a process-wide mutex held across enter, spawn, and leave.
package netns

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

var mu sync.Mutex

// Switch enters the network namespace named by path for the duration of
// fn, then restores the original namespace, regardless of fn's outcome.
// Both transitions are best-effort: a failure to enter or leave is logged
// as a warning, never returned, so the spawn always proceeds.
//
// fn runs with the calling goroutine locked to its OS thread, since a Go
// scheduler preemption mid-switch would run fn (or the restore) on a
// thread that never entered the target namespace.
func Switch(path string, fn func()) {
	mu.Lock()
	defer mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	self, err := os.Open("/proc/self/ns/net")
	if err != nil {
		klog.Warningf("netns: opening current namespace: %v; entering %s anyway", err, path)
	}

	target, err := os.Open(path)
	if err != nil {
		klog.Warningf("netns: opening %s: %v; spawn proceeds in current namespace", path, err)
		if self != nil {
			self.Close()
		}
		fn()
		return
	}

	if err := unix.Setns(int(target.Fd()), unix.CLONE_NEWNET); err != nil {
		klog.Warningf("netns: entering %s: %v; spawn proceeds in current namespace", path, err)
		target.Close()
		if self != nil {
			self.Close()
		}
		fn()
		return
	}
	target.Close()

	// The restore must run on every exit path, a panic in fn included:
	// leaving the thread in the wrong namespace would poison every later
	// spawn on it.
	defer func() {
		if self == nil {
			return
		}
		if err := unix.Setns(int(self.Fd()), unix.CLONE_NEWNET); err != nil {
			klog.Warningf("netns: restoring original namespace: %v", err)
		}
		self.Close()
	}()

	fn()
}

// PathFor returns the /proc path of pid's network namespace file.
func PathFor(pid int) string {
	return fmt.Sprintf("/proc/%d/ns/net", pid)
}
