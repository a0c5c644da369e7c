// Package transport implements the out-of-scope "RPC transport/session
// manager" collaborator the Responder and Session Supervisor consume: it
// resolves a control-plane server address, dials a gRPC ClientConn, and
// exposes a monotonically advancing session-version counter so the
// supervisor can detect server-initiated migration mid-stream.
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"

	"github.com/scoutflo/remote-exec-agent/proto/remoteexec"
)

// Resolver returns the current control-plane server address. Agents
// normally wire this to a fixed address or a service-discovery lookup;
// tests can substitute a fake.
type Resolver func() (string, error)

// Manager owns the dial/redial lifecycle for the agent's single
// long-lived RemoteExecute stream.
type Manager struct {
	resolve  Resolver
	dialOpts []grpc.DialOption

	mu      sync.Mutex
	conn    *grpc.ClientConn
	version int64
}

// New builds a Manager that resolves its server address via resolve.
// Extra dial options (e.g. TLS credentials) can be supplied; when none
// are given, insecure transport credentials are used, matching this
// agent's host-resident deployment model.
func New(resolve Resolver, dialOpts ...grpc.DialOption) *Manager {
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Manager{resolve: resolve, dialOpts: dialOpts}
}

// Version returns the current session-version counter.
func (m *Manager) Version() int64 {
	return atomic.LoadInt64(&m.version)
}

// AdvanceVersion bumps the session-version counter without touching the
// current connection, modeling a server-driven migration decision that
// arrives independently of the Session Supervisor's own reconnect loop
// (e.g. the control plane reassigning the agent to a different server).
// The existing stream is left running; it is the Session Supervisor's
// job to notice the mismatch and tear it down.
func (m *Manager) AdvanceVersion() {
	atomic.AddInt64(&m.version, 1)
}

// Refresh re-resolves the server address, tearing down and re-dialing
// the connection, and advances the session version. It is the first
// step of each Session Supervisor outer-loop iteration.
func (m *Manager) Refresh(ctx context.Context) error {
	addr, err := m.resolve()
	if err != nil {
		return fmt.Errorf("transport: resolve server: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(dialCtx, addr, m.dialOpts...)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	m.conn = conn
	atomic.AddInt64(&m.version, 1)
	klog.V(2).Infof("transport: connected to %s, session version %d", addr, m.version)
	return nil
}

// Client returns a RemoteExecClient bound to the current connection, or
// false if Refresh has not yet succeeded.
func (m *Manager) Client() (remoteexec.RemoteExecClient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil, false
	}
	return remoteexec.NewRemoteExecClient(m.conn), true
}

// Close tears down the current connection, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}
