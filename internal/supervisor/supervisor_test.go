package supervisor

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/scoutflo/remote-exec-agent/internal/identity"
	"github.com/scoutflo/remote-exec-agent/internal/transport"
	"github.com/scoutflo/remote-exec-agent/proto/remoteexec"
)

func TestRunStopsOnContextCancellation(t *testing.T) {
	resolveErr := errors.New("control plane unreachable")
	tm := transport.New(func() (string, error) { return "", resolveErr })
	sup := New(tm, identity.New(), 1, 10*time.Millisecond, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case fault := <-sup.Faults():
		if fault.Err == nil {
			t.Fatal("expected a non-nil fault error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fault report for the unreachable control plane")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on context cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestStopPreventsFurtherSessions(t *testing.T) {
	resolveErr := errors.New("control plane unreachable")
	tm := transport.New(func() (string, error) { return "", resolveErr })
	sup := New(tm, identity.New(), 1, 10*time.Millisecond, 4)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case <-sup.Faults():
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one fault report")
	}

	sup.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil after Stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

// fakeExecServer counts how many times the agent opens a RemoteExecute
// stream, never sending a Request, so the agent sits blocked in
// stream.Recv() for the whole session.
type fakeExecServer struct {
	sessions int32
}

func (f *fakeExecServer) RemoteExecute(stream remoteexec.RemoteExec_RemoteExecuteServer) error {
	atomic.AddInt32(&f.sessions, 1)
	for {
		if _, err := stream.Recv(); err != nil {
			return nil
		}
	}
}

func TestSessionVersionChangeMidRecvReopensStream(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer()
	fakeServer := &fakeExecServer{}
	remoteexec.RegisterRemoteExecServer(grpcServer, fakeServer)
	go func() { _ = grpcServer.Serve(lis) }()
	defer grpcServer.Stop()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	tm := transport.New(
		func() (string, error) { return "bufnet", nil },
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	sup := New(tm, identity.New(), 1, 10*time.Millisecond, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitForSessions := func(n int32) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			if atomic.LoadInt32(&fakeServer.sessions) >= n {
				return
			}
			select {
			case <-deadline:
				t.Fatalf("timed out waiting for %d session(s), saw %d", n, atomic.LoadInt32(&fakeServer.sessions))
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	// First session opens while blocked awaiting a request that never
	// arrives.
	waitForSessions(1)

	// Advance the session version independently of the supervisor's own
	// Refresh/redial, modeling a server-driven migration decision that
	// lands while the supervisor is blocked in stream.Recv(). The
	// migration-poller goroutine in runOneSession must notice this and
	// cancel the session so the outer loop reopens a fresh stream.
	tm.AdvanceVersion()

	waitForSessions(2)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on context cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
