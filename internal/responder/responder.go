// Package responder implements the duplex state machine described in the
// agent's remote-execution design: it ingests Request messages from a
// single streaming RPC, dispatches at most one command at a time to the
// matching executor, chunks the result back with a running digest, and
// emits periodic heartbeats, all under a strict gate priority so that a
// single request's chunks are never interleaved with anything else.
package responder

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"time"

	"k8s.io/klog/v2"

	"github.com/scoutflo/remote-exec-agent/internal/catalog"
	"github.com/scoutflo/remote-exec-agent/internal/execresult"
	"github.com/scoutflo/remote-exec-agent/internal/identity"
	"github.com/scoutflo/remote-exec-agent/internal/k8sexec"
	"github.com/scoutflo/remote-exec-agent/internal/nsenum"
	"github.com/scoutflo/remote-exec-agent/internal/params"
	"github.com/scoutflo/remote-exec-agent/internal/subexec"
	"github.com/scoutflo/remote-exec-agent/proto/remoteexec"
)

// MinBatchLen is the smallest chunk size the Responder will ever use,
// regardless of what a request asks for.
const MinBatchLen = 1024

// HeartbeatInterval is the idle keepalive period.
const HeartbeatInterval = 30 * time.Second

// Sender is the outbound half of the RemoteExecute stream.
type Sender interface {
	Send(*remoteexec.Response) error
}

type cmdOutcome struct {
	out execresult.Output
	err error
}

type pendingCommand struct {
	requestID uint64
	template  string
	resultCh  chan cmdOutcome
}

type nsOutcome struct {
	entries []nsenum.Namespace
	err     error
}

type pendingNamespace struct {
	requestID uint64
	resultCh  chan nsOutcome
}

// resultState is the Responder-owned CommandResult scratch space: the
// not-yet-sent tail of a completed command's stdout, plus the running
// digest over everything emitted so far.
type resultState struct {
	requestID uint64
	buf       []byte
	totalLen  int
	pktCount  int
	digest    hash.Hash
}

// Responder drives one RemoteExecute session.
type Responder struct {
	agentID  *identity.Holder
	requests <-chan *remoteexec.Request
	send     func(*remoteexec.Response) error
	selfPid  int

	heartbeatInterval time.Duration
	ticker            *time.Ticker

	batchLen uint32

	pendingCmd *pendingCommand
	pendingNS  *pendingNamespace
	result     *resultState

	// Staged events: a blocking wait (used only when no gate had
	// anything ready) parks its winning event here instead of acting
	// on it directly, so the next loop iteration's priority-ordered
	// checks decide what actually runs next.
	bufCmdOutcome *cmdOutcome
	bufNSOutcome  *nsOutcome
	bufRequest    *remoteexec.Request
	bufClosed     bool
	bufHeartbeat  bool
}

// New builds a Responder reading from requests and writing through send.
// requests is owned by the Session Supervisor; closing it terminates the
// Responder's Run loop.
func New(agentID *identity.Holder, requests <-chan *remoteexec.Request, send Sender, selfPid int) *Responder {
	return &Responder{
		agentID:           agentID,
		requests:          requests,
		send:              send.Send,
		selfPid:           selfPid,
		heartbeatInterval: HeartbeatInterval,
		batchLen:          MinBatchLen,
	}
}

// Run drives the state machine until the requests channel closes, the
// context is cancelled, or a send fails.
func (r *Responder) Run(ctx context.Context) error {
	r.ticker = time.NewTicker(r.heartbeatInterval)
	defer r.ticker.Stop()

	for {
		resp, terminate, acted, err := r.pollOnce()
		if err != nil {
			return err
		}
		if terminate {
			return nil
		}
		if acted {
			if resp != nil {
				if err := r.send(resp); err != nil {
					return fmt.Errorf("responder: send: %w", err)
				}
			}
			continue
		}

		if err := r.blockUntilReady(ctx); err != nil {
			return err
		}
	}
}

// pollOnce evaluates gates 1 through 5 in strict priority order and acts
// on the first one that is ready, without blocking.
func (r *Responder) pollOnce() (resp *remoteexec.Response, terminate bool, acted bool, err error) {
	// Gate 1: drain.
	if r.result != nil {
		return r.drainChunk(), false, true, nil
	}

	// Gate 2: resolve pending command.
	if r.pendingCmd != nil {
		var outcome cmdOutcome
		var got bool
		if r.bufCmdOutcome != nil {
			outcome, got = *r.bufCmdOutcome, true
			r.bufCmdOutcome = nil
		} else {
			select {
			case outcome = <-r.pendingCmd.resultCh:
				got = true
			default:
			}
		}
		if got {
			resp := r.resolveCommand(outcome)
			r.pendingCmd = nil
			return resp, false, true, nil
		}
	}

	// Gate 3: resolve pending namespace listing.
	if r.pendingNS != nil {
		var outcome nsOutcome
		var got bool
		if r.bufNSOutcome != nil {
			outcome, got = *r.bufNSOutcome, true
			r.bufNSOutcome = nil
		} else {
			select {
			case outcome = <-r.pendingNS.resultCh:
				got = true
			default:
			}
		}
		if got {
			resp := r.resolveNamespace(outcome)
			r.pendingNS = nil
			return resp, false, true, nil
		}
	}

	// Gate 4: intake.
	if r.bufClosed {
		return nil, true, true, nil
	}
	if r.bufRequest != nil {
		req := r.bufRequest
		r.bufRequest = nil
		resp := r.intake(req)
		return resp, false, true, nil
	}
	select {
	case req, open := <-r.requests:
		if !open {
			return nil, true, true, nil
		}
		return r.intake(req), false, true, nil
	default:
	}

	// Gate 5: heartbeat.
	if r.bufHeartbeat {
		r.bufHeartbeat = false
		return r.heartbeatResponse(), false, true, nil
	}
	select {
	case <-r.ticker.C:
		return r.heartbeatResponse(), false, true, nil
	default:
	}

	return nil, false, false, nil
}

// blockUntilReady waits for the first of: a pending command's future, a
// pending namespace future, an inbound request, the heartbeat tick, or
// context cancellation, and stages whichever fires so the next pollOnce
// re-checks priority from the top.
func (r *Responder) blockUntilReady(ctx context.Context) error {
	var cmdCh chan cmdOutcome
	if r.pendingCmd != nil {
		cmdCh = r.pendingCmd.resultCh
	}
	var nsCh chan nsOutcome
	if r.pendingNS != nil {
		nsCh = r.pendingNS.resultCh
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case outcome := <-cmdCh:
		r.bufCmdOutcome = &outcome
	case outcome := <-nsCh:
		r.bufNSOutcome = &outcome
	case req, open := <-r.requests:
		if !open {
			r.bufClosed = true
		} else {
			r.bufRequest = req
		}
	case <-r.ticker.C:
		r.bufHeartbeat = true
	}
	return nil
}

func (r *Responder) heartbeatResponse() *remoteexec.Response {
	return &remoteexec.Response{AgentID: r.agentID.Get()}
}

// drainChunk cuts the next chunk from r.result, updating the running
// digest, and clears r.result once the buffer is exhausted. It always
// emits at least one response per active result, including the single
// zero-length chunk for an empty-stdout success.
func (r *Responder) drainChunk() *remoteexec.Response {
	res := r.result
	n := len(res.buf)
	if n > int(r.batchLen) {
		n = int(r.batchLen)
	}
	chunk := res.buf[:n]
	res.buf = res.buf[n:]

	res.digest.Write(chunk)

	cr := &remoteexec.CommandResult{
		HasErrno: true,
		Errno:    0,
		TotalLen: uint64(res.totalLen),
		PktCount: uint64(res.pktCount),
		Content:  append([]byte(nil), chunk...),
	}

	done := len(res.buf) == 0
	if done {
		cr.Md5 = hex.EncodeToString(res.digest.Sum(nil))
		r.result = nil
	}

	return &remoteexec.Response{
		AgentID:       r.agentID.Get(),
		RequestID:     res.requestID,
		HasRequestID:  true,
		CommandResult: cr,
	}
}

func (r *Responder) resolveCommand(o cmdOutcome) *remoteexec.Response {
	reqID := r.pendingCmd.requestID
	template := r.pendingCmd.template

	if o.err != nil {
		var exitErr *execresult.ExitError
		if errors.As(o.err, &exitErr) {
			if exitErr.Code != nil {
				return r.errorResponse(reqID, fmt.Sprintf("command '%s' failed with %d", template, *exitErr.Code), uint32(*exitErr.Code), true)
			}
			return r.errorResponse(reqID, fmt.Sprintf("command '%s' terminated without errno", template), 0, false)
		}
		return r.errorResponse(reqID, o.err.Error(), 0, false)
	}

	r.result = newResultState(reqID, o.out.Stdout, r.batchLen)
	return nil
}

func newResultState(requestID uint64, stdout []byte, batchLen uint32) *resultState {
	totalLen := len(stdout)
	pktLen := totalLen
	if pktLen == 0 {
		pktLen = 1
	}
	pktCount := (pktLen + int(batchLen) - 1) / int(batchLen)
	h := md5.New()
	return &resultState{
		requestID: requestID,
		buf:       stdout,
		totalLen:  totalLen,
		pktCount:  pktCount,
		digest:    h,
	}
}

func (r *Responder) resolveNamespace(o nsOutcome) *remoteexec.Response {
	reqID := r.pendingNS.requestID
	if o.err != nil {
		return r.errorResponse(reqID, o.err.Error(), 0, false)
	}
	wire := make([]*remoteexec.Namespace, len(o.entries))
	for i, e := range o.entries {
		wire[i] = &remoteexec.Namespace{
			Inode:   e.Inode,
			Kind:    string(e.Kind),
			NProcs:  uint32(e.NProcs),
			Pid:     uint32(e.Pid),
			User:    e.User,
			Command: e.Command,
		}
	}
	return &remoteexec.Response{
		AgentID:         r.agentID.Get(),
		RequestID:       reqID,
		HasRequestID:    true,
		LinuxNamespaces: wire,
	}
}

func (r *Responder) errorResponse(requestID uint64, msg string, errno uint32, hasErrno bool) *remoteexec.Response {
	return &remoteexec.Response{
		AgentID:      r.agentID.Get(),
		RequestID:    requestID,
		HasRequestID: true,
		Errmsg:       msg,
		CommandResult: &remoteexec.CommandResult{
			HasErrno: hasErrno,
			Errno:    errno,
		},
	}
}

// intake dispatches a single inbound request by exec_type. It returns a
// response to send immediately, or nil when it instead registered a
// pending future (the machine restarts at gate 1 on the next iteration).
func (r *Responder) intake(req *remoteexec.Request) *remoteexec.Response {
	if !req.HasExecType {
		// A request with exec_type absent on the wire is silently skipped,
		// distinct from an unknown exec_type value, which is dropped with
		// a warning below.
		return nil
	}
	switch req.ExecType {
	case remoteexec.ExecType_LIST_COMMAND:
		return r.handleListCommand(req)
	case remoteexec.ExecType_LIST_NAMESPACE:
		r.handleListNamespace(req)
		return nil
	case remoteexec.ExecType_RUN_COMMAND:
		return r.handleRunCommand(req)
	default:
		klog.Warningf("responder: dropping request %d with unknown exec_type %v", req.RequestID, req.ExecType)
		return nil
	}
}

func (r *Responder) handleListCommand(req *remoteexec.Request) *remoteexec.Response {
	entries := catalog.List()
	wire := make([]*remoteexec.CatalogEntry, len(entries))
	for i, c := range entries {
		wire[i] = &remoteexec.CatalogEntry{
			ID:           uint32(c.ID),
			Label:        c.Label,
			ParamNames:   c.Placeholders(),
			OutputFormat: c.Format.String(),
			CmdType:      cmdTypeString(c.Type),
		}
	}
	return &remoteexec.Response{
		AgentID:      r.agentID.Get(),
		RequestID:    req.RequestID,
		HasRequestID: true,
		Commands:     wire,
	}
}

func cmdTypeString(t catalog.Type) string {
	if t == catalog.TypeLocal {
		return "local"
	}
	return "kubernetes"
}

func (r *Responder) handleListNamespace(req *remoteexec.Request) {
	resultCh := make(chan nsOutcome, 1)
	go func() {
		entries, err := nsenum.LsNetNamespaces()
		resultCh <- nsOutcome{entries: entries, err: err}
	}()
	r.pendingNS = &pendingNamespace{requestID: req.RequestID, resultCh: resultCh}
}

func (r *Responder) handleRunCommand(req *remoteexec.Request) *remoteexec.Response {
	if req.BatchLen != 0 {
		candidate := req.BatchLen
		if candidate < MinBatchLen {
			candidate = MinBatchLen
		}
		r.batchLen = candidate
	}

	if !req.HasCommandID {
		return r.errorResponse(req.RequestID, "command_id is required for RunCommand", 0, false)
	}
	cmd, ok := catalog.Lookup(int(req.CommandID))
	if !ok {
		return r.errorResponse(req.RequestID, fmt.Sprintf("unknown command id %d", req.CommandID), 0, false)
	}

	wireParams := req.Params
	if max := catalog.MaxPlaceholders(); len(wireParams) > max {
		wireParams = wireParams[:max]
	}
	plist := make([]params.Param, len(wireParams))
	for i, p := range wireParams {
		plist[i] = params.Param{Key: p.Key, Value: p.Value}
	}
	if !params.Validate(plist) {
		return r.errorResponse(req.RequestID, fmt.Sprintf("invalid params for command '%s'", cmd.Template), 0, false)
	}

	switch cmd.Type {
	case catalog.TypeK8sDescribePod, catalog.TypeK8sLog, catalog.TypeK8sLogPrevious:
		ns, nsOK := params.Lookup(plist, "ns")
		pod, podOK := params.Lookup(plist, "pod")
		if !nsOK {
			return r.errorResponse(req.RequestID, (&execresult.ParamError{Template: cmd.Template, Key: "ns"}).Error(), 0, false)
		}
		if !podOK {
			return r.errorResponse(req.RequestID, (&execresult.ParamError{Template: cmd.Template, Key: "pod"}).Error(), 0, false)
		}
		r.dispatchKubernetes(req.RequestID, cmd, ns, pod)
		return nil
	default:
		if cmd.Template == "lsns" {
			r.dispatchLsns(req.RequestID, cmd.Template)
			return nil
		}
		r.dispatchSubprocess(req.RequestID, cmd.Template, plist, int(req.LinuxNsPid))
		return nil
	}
}

func (r *Responder) dispatchKubernetes(requestID uint64, cmd catalog.Command, ns, pod string) {
	resultCh := make(chan cmdOutcome, 1)
	go func() {
		ctx := context.Background()
		var out execresult.Output
		var err error
		switch cmd.Type {
		case catalog.TypeK8sDescribePod:
			out, err = k8sexec.DescribePod(ctx, ns, pod)
		case catalog.TypeK8sLog:
			out, err = k8sexec.Log(ctx, ns, pod, false)
		case catalog.TypeK8sLogPrevious:
			out, err = k8sexec.Log(ctx, ns, pod, true)
		}
		resultCh <- cmdOutcome{out: out, err: err}
	}()
	r.pendingCmd = &pendingCommand{requestID: requestID, template: cmd.Template, resultCh: resultCh}
}

func (r *Responder) dispatchLsns(requestID uint64, template string) {
	resultCh := make(chan cmdOutcome, 1)
	go func() {
		entries, err := nsenum.Enumerate()
		if err != nil {
			resultCh <- cmdOutcome{err: err}
			return
		}
		var buf bytes.Buffer
		if err := nsenum.RenderTable(&buf, entries); err != nil {
			resultCh <- cmdOutcome{err: err}
			return
		}
		resultCh <- cmdOutcome{out: execresult.Output{Stdout: buf.Bytes()}}
	}()
	r.pendingCmd = &pendingCommand{requestID: requestID, template: template, resultCh: resultCh}
}

func (r *Responder) dispatchSubprocess(requestID uint64, template string, plist []params.Param, peerPid int) {
	resultCh := make(chan cmdOutcome, 1)
	go func() {
		out, err := subexec.Run(context.Background(), template, plist, peerPid, r.selfPid)
		resultCh <- cmdOutcome{out: out, err: err}
	}()
	r.pendingCmd = &pendingCommand{requestID: requestID, template: template, resultCh: resultCh}
}
