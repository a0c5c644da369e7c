package netns

import (
	"os"
	"testing"
)

func TestSwitchRunsFnEvenWhenPathMissing(t *testing.T) {
	ran := false
	Switch("/proc/999999999/ns/net", func() { ran = true })
	if !ran {
		t.Fatal("Switch must call fn even when the target namespace file does not exist")
	}
}

func TestSwitchEntersAndRestoresOwnNamespace(t *testing.T) {
	ran := false
	Switch(PathFor(os.Getpid()), func() { ran = true })
	if !ran {
		t.Fatal("Switch must call fn when entering our own namespace succeeds")
	}
}

func TestSwitchRestoresOnPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Switch must propagate a panic from fn after restoring")
		}
	}()
	Switch(PathFor(os.Getpid()), func() { panic("spawn blew up") })
}

func TestPathFor(t *testing.T) {
	got := PathFor(1234)
	want := "/proc/1234/ns/net"
	if got != want {
		t.Fatalf("PathFor(1234) = %q, want %q", got, want)
	}
}
