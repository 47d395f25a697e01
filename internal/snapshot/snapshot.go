// Package snapshot computes the desired content of the diagnostic tree from
// the durable facts: the unit registry and the diagnostic store.
package snapshot

import (
	"arbor/internal/diag"
	"arbor/internal/diagstore"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

// Options tune what a snapshot shows.
type Options struct {
	// MinSeverity hides diagnostics ranked below it.
	MinSeverity diag.Severity
	// Seen reports units that took part in the current session; they are
	// shown even without diagnostics. May be nil.
	Seen func(unit.Key) bool
}

// Snapshot is the desired tree, indexed for tree.ChildrenFunc lookups.
type Snapshot struct {
	containers []tree.Payload
	leaves     map[string][]tree.Payload
	diags      map[unit.Key][]tree.Payload
	dropped    int
}

// Build reads the registry and the store once and returns the desired tree.
//
// A diagnostic is shown under its owner when the owner is still valid.
// Owner-less or orphaned diagnostics go to the innermost leaf enclosing their
// primary offset; when there is none they are not rendered.
func Build(units *unit.Registry, store *diagstore.Store, opts Options) *Snapshot {
	s := &Snapshot{
		leaves: make(map[string][]tree.Payload),
		diags:  make(map[unit.Key][]tree.Payload),
	}
	seen := opts.Seen
	if seen == nil {
		seen = func(unit.Key) bool { return false }
	}

	containers := units.Containers()
	for _, c := range containers {
		for _, d := range store.GetAll(c.File) {
			if !d.Severity.AtLeast(opts.MinSeverity) {
				continue
			}
			owner, ok := attribute(units, d)
			if !ok {
				s.dropped++
				continue
			}
			s.diags[owner] = append(s.diags[owner], tree.DiagnosticPayload(d))
		}
	}

	for _, c := range containers {
		path := c.Key.Module
		var leaves []tree.Payload
		for _, l := range units.Leaves(path) {
			if seen(l.Key) || len(s.diags[l.Key]) > 0 {
				leaves = append(leaves, tree.LeafPayload(l.Key, l.Span.Start))
			}
		}
		if len(leaves) == 0 && !seen(c.Key) {
			continue
		}
		s.leaves[path] = leaves
		s.containers = append(s.containers, tree.ContainerPayload(path))
	}
	return s
}

func attribute(units *unit.Registry, d *diag.Diagnostic) (unit.Key, bool) {
	if d.HasOwner() {
		if u, ok := units.Resolve(d.Owner); ok && u.Kind == unit.KindLeaf {
			return u.Key, true
		}
	}
	leaf, ok := units.LeafAt(d.Primary.File, d.Primary.Start)
	if !ok {
		return unit.Key{}, false
	}
	return leaf.Key, true
}

// Children implements tree.ChildrenFunc.
func (s *Snapshot) Children(n *tree.Node) []tree.Payload {
	switch n.Kind() {
	case tree.KindRoot:
		return s.containers
	case tree.KindContainer:
		return s.leaves[n.Key().Module]
	case tree.KindLeaf:
		return s.diags[n.Key()]
	case tree.KindDiagnostic:
		return nil
	}
	return nil
}

// Unattributed is the number of diagnostics that could not be placed.
func (s *Snapshot) Unattributed() int { return s.dropped }

// Diagnostics returns the shown diagnostics of a leaf.
func (s *Snapshot) Diagnostics(leaf unit.Key) []*diag.Diagnostic {
	ps := s.diags[leaf]
	out := make([]*diag.Diagnostic, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Diag)
	}
	return out
}
