package nav

import (
	"slices"

	"arbor/internal/diag"
	"arbor/internal/diagstore"
	"arbor/internal/source"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

// Jumper moves the editing surface to a location.
type Jumper interface {
	Jump(loc source.Location, focus bool)
}

// JumperFunc adapts a function to Jumper.
type JumperFunc func(loc source.Location, focus bool)

func (f JumperFunc) Jump(loc source.Location, focus bool) { f(loc, focus) }

// DiagnosticsAt returns the diagnostics of file whose primary range contains
// offset, computed against the current revision and ranked at least
// minSeverity, ordered by decreasing severity. Empty ranges match their start.
func DiagnosticsAt(store *diagstore.Store, files *source.FileSet, file source.FileID, offset uint32, minSeverity diag.Severity) []*diag.Diagnostic {
	var out []*diag.Diagnostic
	for _, d := range store.GetAll(file) {
		if !d.Severity.AtLeast(minSeverity) || !d.Primary.Contains(offset) {
			continue
		}
		if !files.Current(d.Location()) {
			continue
		}
		out = append(out, d)
	}
	diag.SortByRank(out)
	return out
}

// Locate resolves the payload of n to a source location: the diagnostic
// span, the leaf span or the start of the container file.
func Locate(n *tree.Node, units *unit.Registry, files *source.FileSet) (source.Location, bool) {
	if n == nil {
		return source.Location{}, false
	}
	switch n.Kind() {
	case tree.KindDiagnostic:
		d := n.Diagnostic()
		if d == nil || !files.Current(d.Location()) {
			return source.Location{}, false
		}
		return d.Location(), true
	case tree.KindLeaf:
		u, ok := units.Resolve(n.Key())
		if !ok {
			return source.Location{}, false
		}
		return files.Locate(u.Span)
	case tree.KindContainer:
		u, ok := units.Resolve(n.Key())
		if !ok {
			return source.Location{}, false
		}
		return files.Locate(source.Span{File: u.File})
	case tree.KindRoot:
		return source.Location{}, false
	}
	return source.Location{}, false
}

// Navigate requests a jump to the source of n. It is a no-op when the node
// no longer resolves.
func Navigate(n *tree.Node, units *unit.Registry, files *source.FileSet, j Jumper, focus bool) bool {
	if j == nil {
		return false
	}
	loc, ok := Locate(n, units, files)
	if !ok {
		return false
	}
	j.Jump(loc, focus)
	return true
}

// SelectAt selects the most severe diagnostic under the cursor that has a
// row in the tree. It returns the selected diagnostic, or nil.
func (s *Selection) SelectAt(root *tree.Node, store *diagstore.Store, files *source.FileSet, file source.FileID, offset uint32, minSeverity diag.Severity) *diag.Diagnostic {
	ds := DiagnosticsAt(store, files, file, offset, minSeverity)
	if i := slices.IndexFunc(ds, func(d *diag.Diagnostic) bool { return s.Select(root, d) }); i >= 0 {
		return ds[i]
	}
	return nil
}
