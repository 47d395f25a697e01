package tree

import (
	"cmp"
	"strings"
	"time"

	"arbor/internal/diag"
	"arbor/internal/unit"
)

// Kind of a tree node.
type Kind uint8

const (
	KindRoot Kind = iota
	KindContainer
	KindLeaf
	KindDiagnostic
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindContainer:
		return "container"
	case KindLeaf:
		return "leaf"
	case KindDiagnostic:
		return "diagnostic"
	}
	return "unknown"
}

// State is the lifecycle state of a node.
type State uint8

const (
	StateNotStarted State = iota
	StateRunning
	StateFailed
	StateFinished
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateFinished:
		return "finished"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Payload is what a node shows. Containers and leaves are identified by key,
// diagnostics by pointer. Offset orders leaves and is not part of identity.
type Payload struct {
	Kind   Kind
	Key    unit.Key
	Offset uint32
	Diag   *diag.Diagnostic
}

// ContainerPayload builds the payload of a container node.
func ContainerPayload(module string) Payload {
	return Payload{Kind: KindContainer, Key: unit.Key{Module: module}}
}

// LeafPayload builds the payload of a leaf node.
func LeafPayload(key unit.Key, offset uint32) Payload {
	return Payload{Kind: KindLeaf, Key: key, Offset: offset}
}

// DiagnosticPayload builds the payload of a diagnostic node.
func DiagnosticPayload(d *diag.Diagnostic) Payload {
	return Payload{Kind: KindDiagnostic, Diag: d}
}

type identity struct {
	kind Kind
	key  unit.Key
	diag *diag.Diagnostic
}

func (p Payload) identity() identity {
	switch p.Kind {
	case KindDiagnostic:
		return identity{kind: p.Kind, diag: p.Diag}
	case KindRoot:
		return identity{kind: p.Kind}
	}
	return identity{kind: p.Kind, key: p.Key}
}

// Same reports payload identity.
func (p Payload) Same(other Payload) bool {
	if p.Kind != other.Kind {
		return false
	}
	switch p.Kind {
	case KindDiagnostic:
		return p.Diag == other.Diag
	case KindContainer, KindLeaf:
		return p.Key == other.Key
	case KindRoot:
		return true
	}
	return false
}

// Compare is the child order: containers by module path, leaves by offset
// then key, diagnostics by severity rank descending then insertion sequence.
// Diagnostics without a sequence fall back to location, code, stage, owner
// and message; two that agree on all of those compare equal.
func Compare(a, b Payload) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindContainer:
		return strings.Compare(a.Key.Module, b.Key.Module)
	case KindLeaf:
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return a.Key.Compare(b.Key)
	case KindDiagnostic:
		return compareDiagnostics(a.Diag, b.Diag)
	}
	return 0
}

func compareDiagnostics(a, b *diag.Diagnostic) int {
	if a == b {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		if ra > rb {
			return -1
		}
		return 1
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	// only unsequenced diagnostics get here
	return cmp.Or(
		cmp.Compare(a.Primary.File, b.Primary.File),
		cmp.Compare(a.Primary.Start, b.Primary.Start),
		cmp.Compare(a.Primary.End, b.Primary.End),
		cmp.Compare(a.Code, b.Code),
		cmp.Compare(a.Stage, b.Stage),
		a.Owner.Compare(b.Owner),
		strings.Compare(a.Message, b.Message),
	)
}

// Node is one row of the rendered tree. Nodes are owned by the session's
// consumer goroutine and must not be touched elsewhere.
type Node struct {
	payload  Payload
	state    State
	failed   bool
	duration time.Duration
	expanded bool
	parent   *Node
	children []*Node
}

func (n *Node) Kind() Kind              { return n.payload.Kind }
func (n *Node) Payload() Payload        { return n.payload }
func (n *Node) State() State            { return n.state }
func (n *Node) Failed() bool            { return n.failed }
func (n *Node) Duration() time.Duration { return n.duration }
func (n *Node) Parent() *Node           { return n.parent }
func (n *Node) Expanded() bool          { return n.expanded }
func (n *Node) Len() int                { return len(n.children) }
func (n *Node) Child(i int) *Node       { return n.children[i] }

// Children returns the ordered children. Do not modify the slice.
func (n *Node) Children() []*Node { return n.children }

// Key returns the unit key of container and leaf nodes.
func (n *Node) Key() unit.Key { return n.payload.Key }

// Diagnostic returns the payload of a diagnostic node, nil otherwise.
func (n *Node) Diagnostic() *diag.Diagnostic { return n.payload.Diag }

// SetState moves the node to s. Failed stays sticky once set.
func (n *Node) SetState(s State) {
	if s == StateFailed {
		n.failed = true
	}
	n.state = s
}

// MarkFailed records a failure; a later Finished keeps Failed() true.
func (n *Node) MarkFailed() { n.SetState(StateFailed) }

func (n *Node) SetDuration(d time.Duration) { n.duration = d }

func (n *Node) SetExpanded(v bool) { n.expanded = v }

// Live reports whether the node is still in progress.
func (n *Node) Live() bool {
	return n.state == StateRunning || n.state == StateFailed
}

// Label is the one-line text of a node.
func (n *Node) Label() string {
	switch n.payload.Kind {
	case KindRoot:
		return "<root>"
	case KindContainer:
		return n.payload.Key.Module
	case KindLeaf:
		return n.payload.Key.Name
	case KindDiagnostic:
		if n.payload.Diag == nil {
			return ""
		}
		return n.payload.Diag.OneLine()
	}
	return ""
}

// Attached reports whether n is still reachable from a root node. A node
// unlinked by Remove keeps its own children, so the whole chain is walked.
func (n *Node) Attached() bool {
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur.payload.Kind == KindRoot
}

// Path returns the chain of nodes from the root to n.
func (n *Node) Path() []*Node {
	var out []*Node
	for cur := n; cur != nil; cur = cur.parent {
		out = append(out, cur)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Index returns the position of n among its siblings, or -1 for the root.
func (n *Node) Index() int {
	if n.parent == nil {
		return -1
	}
	for i, c := range n.parent.children {
		if c == n {
			return i
		}
	}
	return -1
}
