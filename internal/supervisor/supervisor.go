// Package supervisor implements the outer loop described in the agent's
// remote-execution design: it repeatedly acquires a transport, opens the
// RemoteExecute stream, feeds a fresh Responder from it, and tears down
// and retries on error, stream end, or server-driven session migration.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"k8s.io/klog/v2"

	"github.com/scoutflo/remote-exec-agent/internal/identity"
	"github.com/scoutflo/remote-exec-agent/internal/responder"
	"github.com/scoutflo/remote-exec-agent/internal/transport"
	"github.com/scoutflo/remote-exec-agent/proto/remoteexec"
)

// Fault is a one-shot report of a transport-level failure, surfaced on a
// side channel so the reconnect loop itself never blocks on reporting.
type Fault struct {
	When time.Time
	Err  error
}

// Supervisor owns the transport manager and drives successive Responder
// sessions against it until Stop is called.
type Supervisor struct {
	transport *transport.Manager
	identity  *identity.Holder
	selfPid   int
	faults    chan Fault

	retryMin time.Duration
	retryMax time.Duration

	running int32
}

// New builds a Supervisor. retryInterval seeds the backoff between
// reconnect attempts (RPC_RETRY_INTERVAL); faultBuffer sizes the
// exception-reporter channel.
func New(tm *transport.Manager, id *identity.Holder, selfPid int, retryInterval time.Duration, faultBuffer int) *Supervisor {
	return &Supervisor{
		transport: tm,
		identity:  id,
		selfPid:   selfPid,
		faults:    make(chan Fault, faultBuffer),
		retryMin:  retryInterval,
		retryMax:  retryInterval * 10,
	}
}

// Faults returns the exception-reporter channel. Transport faults are
// sent here and never block the supervisor loop: when the buffer is full
// the new report is dropped and logged (the send is best-effort).
func (s *Supervisor) Faults() <-chan Fault {
	return s.faults
}

func (s *Supervisor) reportFault(err error) {
	select {
	case s.faults <- Fault{When: time.Now(), Err: err}:
	default:
		klog.Warningf("supervisor: fault channel full, dropping report: %v", err)
	}
}

// Run blocks, driving sessions until ctx is cancelled or Stop is called.
func (s *Supervisor) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return errors.New("supervisor: already running")
	}
	defer atomic.StoreInt32(&s.running, 0)

	b := &backoff.Backoff{Min: s.retryMin, Max: s.retryMax, Factor: 2, Jitter: true}

	for atomic.LoadInt32(&s.running) == 1 {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := s.runOneSession(ctx); err != nil {
			s.reportFault(fmt.Errorf("supervisor: controller socket error: %w", err))
			wait := b.Duration()
			klog.Warningf("supervisor: session failed: %v; retrying in %s", err, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		b.Reset()
	}
	return nil
}

// Stop clears the running flag; the in-flight session is abandoned at
// its next natural exit point (stream end, error, or version change).
func (s *Supervisor) Stop() {
	atomic.StoreInt32(&s.running, 0)
}

// runOneSession performs one iteration of the outer loop: refresh the
// transport, open the stream, and forward inbound messages to a fresh
// Responder until the session ends.
func (s *Supervisor) runOneSession(ctx context.Context) error {
	if err := s.transport.Refresh(ctx); err != nil {
		return fmt.Errorf("acquiring transport: %w", err)
	}
	sessionVersion := s.transport.Version()

	client, ok := s.transport.Client()
	if !ok {
		return errors.New("no transport client available")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.RemoteExecute(sessionCtx)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}

	requests := make(chan *remoteexec.Request, 1)
	resp := responder.New(s.identity, requests, stream, s.selfPid)

	responderErrCh := make(chan error, 1)
	go func() {
		responderErrCh <- resp.Run(sessionCtx)
	}()

	// A version change can land while we're blocked in stream.Recv(), which
	// only returns when the server sends, errors, or its context is done.
	// Poll for migration and cancel sessionCtx so a mid-receive migration
	// unblocks Recv immediately instead of waiting for the next message.
	versionDone := make(chan struct{})
	defer close(versionDone)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-versionDone:
				return
			case <-sessionCtx.Done():
				return
			case <-ticker.C:
				if s.transport.Version() != sessionVersion {
					cancel()
					return
				}
			}
		}
	}()

	for {
		if s.transport.Version() != sessionVersion {
			close(requests)
			cancel()
			<-responderErrCh
			return nil
		}

		req, err := stream.Recv()
		if err != nil {
			if s.transport.Version() != sessionVersion {
				cancel()
				<-responderErrCh
				return nil
			}
			cancel()
			<-responderErrCh
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receiving request: %w", err)
		}

		klog.V(4).Infof("supervisor: forwarding request %d exec_type=%v", req.RequestID, req.ExecType)

		select {
		case requests <- req:
		case err := <-responderErrCh:
			cancel()
			return err
		case <-sessionCtx.Done():
			return sessionCtx.Err()
		}
	}
}
