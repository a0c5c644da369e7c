// Package catalog holds the fixed table of diagnostic commands the agent
// is permitted to run. The table never changes after startup; command ids
// are positional and part of the wire contract with the control plane, so
// entries must never be reordered.
package catalog

import "strings"

// Format tags the shape of a command's output.
type Format int

const (
	FormatText Format = iota
	FormatBinary
)

func (f Format) String() string {
	if f == FormatBinary {
		return "binary"
	}
	return "text"
}

// Type tags what kind of executor a Command is dispatched to.
type Type int

const (
	TypeLocal Type = iota
	TypeK8sDescribePod
	TypeK8sLog
	TypeK8sLogPrevious
)

// Command is an immutable catalog entry.
type Command struct {
	ID       int
	Template string
	Format   Format
	Label    string
	Type     Type
}

// Placeholders returns the names of the template's "$name" tokens, in
// template order, with the leading sigil stripped.
func (c Command) Placeholders() []string {
	fields := strings.Fields(c.Template)
	var names []string
	for _, f := range fields {
		if strings.HasPrefix(f, "$") {
			names = append(names, strings.TrimPrefix(f, "$"))
		}
	}
	return names
}

// catalog is the compile-time command table. Order and ids are the wire
// contract: do not reorder without coordinating with the control plane.
var catalog = []Command{
	{ID: 0, Template: "lsns", Format: FormatText, Label: "list namespaces", Type: TypeLocal},
	{ID: 1, Template: "top -b -n 1 -c -w 512", Format: FormatText, Label: "process top", Type: TypeLocal},
	{ID: 2, Template: "ps auxf", Format: FormatText, Label: "process tree", Type: TypeLocal},
	{ID: 3, Template: "ip address", Format: FormatText, Label: "network interfaces", Type: TypeLocal},
	{ID: 4, Template: "kubectl -n $ns describe pod $pod", Format: FormatText, Label: "describe pod", Type: TypeK8sDescribePod},
	{ID: 5, Template: "kubectl -n $ns logs --tail=10000 $pod", Format: FormatText, Label: "pod logs", Type: TypeK8sLog},
	{ID: 6, Template: "kubectl -n $ns logs --tail=10000 -p $pod", Format: FormatText, Label: "previous pod logs", Type: TypeK8sLogPrevious},
}

var maxPlaceholders int

func init() {
	for _, c := range catalog {
		if n := len(c.Placeholders()); n > maxPlaceholders {
			maxPlaceholders = n
		}
	}
}

// List returns the catalog in id order.
func List() []Command {
	out := make([]Command, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the Command with the given id, or false if none exists.
func Lookup(id int) (Command, bool) {
	if id < 0 || id >= len(catalog) {
		return Command{}, false
	}
	return catalog[id], true
}

// MaxPlaceholders is the largest placeholder count across all catalog
// entries, memoized at init time. It bounds the number of parameters a
// RunCommand request may carry.
func MaxPlaceholders() int {
	return maxPlaceholders
}
