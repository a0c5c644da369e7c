// Package nsenum walks /proc and groups processes by kernel namespace
// inode, producing a listing comparable to the Linux lsns tool.
package nsenum

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"k8s.io/klog/v2"
)

// Kind is the kernel namespace type. Unknown kinds are never reported.
type Kind string

const (
	KindMount  Kind = "mnt"
	KindNet    Kind = "net"
	KindPID    Kind = "pid"
	KindUTS    Kind = "uts"
	KindIPC    Kind = "ipc"
	KindUser   Kind = "user"
	KindCgroup Kind = "cgroup"
	KindTime   Kind = "time"
)

var nsFileKind = map[string]Kind{
	"mnt":              KindMount,
	"net":              KindNet,
	"pid":              KindPID,
	"pid_for_children": KindPID,
	"uts":              KindUTS,
	"ipc":              KindIPC,
	"user":             KindUser,
	"cgroup":           KindCgroup,
	"time":             KindTime,
}

// Namespace is one enumeration entry: a kernel namespace inode and the
// representative process merged into it.
type Namespace struct {
	Inode   uint64
	Kind    Kind
	NProcs  int
	Pid     int
	User    string
	Command string
}

// Enumerate walks /proc and returns one Namespace per distinct inode seen
// across all live processes, merged per the rule in upsert.
func Enumerate() ([]Namespace, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("nsenum: reading /proc: %w", err)
	}

	byInode := make(map[uint64]*Namespace)

	for _, e := range entries {
		pid, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		procDir := filepath.Join("/proc", e.Name())

		info, err := os.Stat(procDir)
		if err != nil {
			klog.V(2).Infof("nsenum: skipping pid %d: stat failed: %v", pid, err)
			continue
		}
		uid := ownerUID(info)
		username := lookupUsername(uid)

		cmd, ok := readCommandLine(procDir)
		if !ok {
			continue
		}

		walkNamespaces(procDir, int(pid), username, cmd, byInode)
	}

	out := make([]Namespace, 0, len(byInode))
	for _, ns := range byInode {
		out = append(out, *ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Inode < out[j].Inode })
	return out, nil
}

// LsNetNamespaces returns the net-typed subset of Enumerate's result, used
// to serve the ListNamespace RPC.
func LsNetNamespaces() ([]Namespace, error) {
	all, err := Enumerate()
	if err != nil {
		return nil, err
	}
	var nets []Namespace
	for _, ns := range all {
		if ns.Kind == KindNet {
			nets = append(nets, ns)
		}
	}
	return nets, nil
}

func walkNamespaces(procDir string, pid int, username, cmd string, byInode map[uint64]*Namespace) {
	nsDir := filepath.Join(procDir, "ns")
	files, err := os.ReadDir(nsDir)
	if err != nil {
		return
	}
	// pid and pid_for_children usually name the same inode; a process is
	// counted once per namespace, however many of its ns files point there.
	seen := make(map[uint64]bool, len(files))
	for _, f := range files {
		kind, ok := nsFileKind[f.Name()]
		if !ok {
			continue
		}
		info, err := os.Stat(filepath.Join(nsDir, f.Name()))
		if err != nil {
			continue
		}
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			continue
		}
		if seen[st.Ino] {
			continue
		}
		seen[st.Ino] = true
		upsert(byInode, st.Ino, kind, pid, username, cmd)
	}
}

// upsert applies the merge rule from the data model: on an inode
// collision, keep the entry whose pid is numerically smaller as the
// representative, and increment the process count.
func upsert(byInode map[uint64]*Namespace, inode uint64, kind Kind, pid int, username, cmd string) {
	existing, ok := byInode[inode]
	if !ok {
		byInode[inode] = &Namespace{
			Inode: inode, Kind: kind, NProcs: 1,
			Pid: pid, User: username, Command: cmd,
		}
		return
	}
	existing.NProcs++
	if pid < existing.Pid {
		existing.Pid = pid
		existing.User = username
		existing.Command = cmd
	}
}

func ownerUID(info os.FileInfo) uint32 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Uid
	}
	return 0
}

func lookupUsername(uid uint32) string {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return strconv.FormatUint(uint64(uid), 10)
	}
	return u.Username
}

// readCommandLine reads /proc/<pid>/cmdline, falling back to comm. It
// reports false only when both reads fail, signaling the caller to skip
// this process entirely.
func readCommandLine(procDir string) (string, bool) {
	if raw, err := os.ReadFile(filepath.Join(procDir, "cmdline")); err == nil && len(raw) > 0 {
		trimmed := strings.TrimRight(string(raw), "\x00")
		return strings.ReplaceAll(trimmed, "\x00", " "), true
	}
	if raw, err := os.ReadFile(filepath.Join(procDir, "comm")); err == nil {
		return strings.TrimRight(string(raw), "\n"), true
	}
	return "", false
}

// RenderTable writes entries as a fixed-width text table with columns
// NS, TYPE, NPROCS, PID, USER, COMMAND, matching the layout of the Linux
// lsns tool.
func RenderTable(w io.Writer, entries []Namespace) error {
	userWidth := len("USER")
	for _, e := range entries {
		if len(e.User) > userWidth {
			userWidth = len(e.User)
		}
	}

	if _, err := fmt.Fprintf(w, "%10s %-6s %6s %5s %-*s COMMAND\n", "NS", "TYPE", "NPROCS", "PID", userWidth, "USER"); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%10d %-6s %6d %5d %-*s %s\n",
			e.Inode, e.Kind, e.NProcs, e.Pid, userWidth, e.User, e.Command); err != nil {
			return err
		}
	}
	return nil
}
