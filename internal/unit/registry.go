package unit

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"arbor/internal/source"
)

var (
	// ErrUnknownContainer is returned when a leaf is defined in a module
	// that has no live container.
	ErrUnknownContainer = errors.New("unknown container")
	// ErrSpanOutsideFile is returned when a leaf span does not point into
	// the container's file.
	ErrSpanOutsideFile = errors.New("span outside container file")
	// ErrInvalidKey is returned for malformed keys.
	ErrInvalidKey = errors.New("invalid unit key")
)

// Unit is a resolved snapshot of a registry entry. It carries the generation
// it was resolved at; once the entry is redefined or removed the snapshot
// degrades to invalid. Consumers re-resolve on every use.
type Unit struct {
	Key    Key
	Kind   Kind
	File   source.FileID
	Span   source.Span // zero for containers
	Parent Key         // zero when the leaf is top-level
	gen    uint64
}

// HasParent reports whether the leaf is nested in another leaf.
func (u Unit) HasParent() bool {
	return !u.Parent.IsZero()
}

type containerRec struct {
	path   string
	file   source.FileID
	gen    uint64
	leaves map[string]struct{}
}

type leafRec struct {
	key    Key
	parent Key
	span   source.Span
	gen    uint64
}

// Registry holds the containers and leaves currently known for a project.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	files      *source.FileSet
	containers map[string]*containerRec
	byFile     map[source.FileID]string
	leaves     map[Key]*leafRec
	gen        uint64
	onChange   func()
}

// NewRegistry creates an empty registry backed by files.
func NewRegistry(files *source.FileSet) *Registry {
	return &Registry{
		files:      files,
		containers: make(map[string]*containerRec),
		byFile:     make(map[source.FileID]string),
		leaves:     make(map[Key]*leafRec),
	}
}

// Files returns the file set backing the registry.
func (r *Registry) Files() *source.FileSet {
	return r.files
}

// OnChange installs a hook called after every structural mutation.
// The hook runs outside the registry lock.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Registry) changed() {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (r *Registry) nextGen() uint64 {
	r.gen++
	return r.gen
}

// DefineContainer registers (or re-registers) a container backed by file.
// Re-registering with a different file drops the container's leaves, since
// their spans point into the old file.
func (r *Registry) DefineContainer(path string, file source.FileID) (Unit, error) {
	if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") {
		return Unit{}, fmt.Errorf("%w: container path %q", ErrInvalidKey, path)
	}
	r.mu.Lock()
	rec, ok := r.containers[path]
	switch {
	case !ok:
		rec = &containerRec{path: path, leaves: make(map[string]struct{})}
		r.containers[path] = rec
	case rec.file != file:
		r.dropLeavesLocked(rec)
		delete(r.byFile, rec.file)
	}
	rec.file = file
	rec.gen = r.nextGen()
	r.byFile[file] = path
	u := Unit{Key: Key{Module: path}, Kind: KindContainer, File: file, gen: rec.gen}
	r.mu.Unlock()

	r.changed()
	return u, nil
}

// DefineLeaf registers a definition inside its container. parent may be the
// zero key for top-level definitions.
func (r *Registry) DefineLeaf(key Key, parent Key, span source.Span) (Unit, error) {
	if key.Name == "" || key.Module == "" {
		return Unit{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if !parent.IsZero() && (parent.Module != key.Module || parent == key) {
		return Unit{}, fmt.Errorf("%w: parent %q of %q", ErrInvalidKey, parent, key)
	}
	r.mu.Lock()
	rec, ok := r.containers[key.Module]
	if !ok {
		r.mu.Unlock()
		return Unit{}, fmt.Errorf("%w: %s", ErrUnknownContainer, key.Module)
	}
	if span.File != rec.file {
		r.mu.Unlock()
		return Unit{}, fmt.Errorf("%w: %s", ErrSpanOutsideFile, key)
	}
	leaf := &leafRec{key: key, parent: parent, span: span, gen: r.nextGen()}
	r.leaves[key] = leaf
	rec.leaves[key.Name] = struct{}{}
	u := leaf.unit(rec.file)
	r.mu.Unlock()

	r.changed()
	return u, nil
}

// RemoveLeaf removes a definition and every definition nested in it.
// It reports whether anything was removed.
func (r *Registry) RemoveLeaf(key Key) bool {
	r.mu.Lock()
	removed := r.removeLeafLocked(key)
	r.mu.Unlock()
	if removed {
		r.changed()
	}
	return removed
}

func (r *Registry) removeLeafLocked(key Key) bool {
	if _, ok := r.leaves[key]; !ok {
		return false
	}
	delete(r.leaves, key)
	rec := r.containers[key.Module]
	if rec == nil {
		return true
	}
	delete(rec.leaves, key.Name)
	for name := range rec.leaves {
		child := r.leaves[Key{Module: key.Module, Name: name}]
		if child != nil && child.parent == key {
			r.removeLeafLocked(child.key)
		}
	}
	return true
}

// InvalidateContainer forgets a container and all its leaves.
// The backing file is invalidated too. It reports whether the container existed.
func (r *Registry) InvalidateContainer(path string) bool {
	r.mu.Lock()
	rec, ok := r.containers[path]
	if ok {
		r.dropLeavesLocked(rec)
		delete(r.containers, path)
		delete(r.byFile, rec.file)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.files.Invalidate(rec.file)
	r.changed()
	return true
}

func (r *Registry) dropLeavesLocked(rec *containerRec) {
	for name := range rec.leaves {
		delete(r.leaves, Key{Module: rec.path, Name: name})
	}
	rec.leaves = make(map[string]struct{})
}

// Resolve looks up key. It fails for unknown keys and for units whose
// backing file is no longer valid.
func (r *Registry) Resolve(key Key) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(key)
}

func (r *Registry) resolveLocked(key Key) (Unit, bool) {
	rec, ok := r.containers[key.Module]
	if !ok || !r.files.Valid(rec.file) {
		return Unit{}, false
	}
	if key.Name == "" {
		return Unit{Key: key, Kind: KindContainer, File: rec.file, gen: rec.gen}, true
	}
	leaf, ok := r.leaves[key]
	if !ok {
		return Unit{}, false
	}
	return leaf.unit(rec.file), true
}

// ResolveString parses "module" or "module.name" using the longest
// registered module path that prefixes s.
func (r *Registry) ResolveString(s string) (Unit, bool) {
	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return Unit{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.containers[s]; ok {
		return r.resolveLocked(Key{Module: s})
	}
	for i := len(s) - 1; i > 0; i-- {
		if s[i] != '.' {
			continue
		}
		if _, ok := r.containers[s[:i]]; ok {
			return r.resolveLocked(Key{Module: s[:i], Name: s[i+1:]})
		}
	}
	return Unit{}, false
}

// IsValid reports whether u still denotes a live unit: one lookup comparing
// generations plus the backing file validity flag.
func (r *Registry) IsValid(u Unit) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.containers[u.Key.Module]
	if !ok || rec.file != u.File || !r.files.Valid(rec.file) {
		return false
	}
	if u.Kind == KindContainer {
		return rec.gen == u.gen
	}
	leaf, ok := r.leaves[u.Key]
	return ok && leaf.gen == u.gen
}

// IsValidKey is IsValid for a key resolved on the spot.
func (r *Registry) IsValidKey(key Key) bool {
	_, ok := r.Resolve(key)
	return ok
}

// IsAncestor reports whether ancestor is a strict ancestor of key through
// the parent chain of nested definitions.
func (r *Registry) IsAncestor(ancestor, key Key) bool {
	if ancestor.Module != key.Module || ancestor == key {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ancestor.Name == "" {
		_, ok := r.leaves[key]
		return ok
	}
	seen := make(map[Key]struct{})
	cur := key
	for {
		leaf, ok := r.leaves[cur]
		if !ok || leaf.parent.IsZero() {
			return false
		}
		if leaf.parent == ancestor {
			return true
		}
		if _, loop := seen[leaf.parent]; loop {
			return false
		}
		seen[leaf.parent] = struct{}{}
		cur = leaf.parent
	}
}

// Leaves lists the valid leaves of a container ordered by source offset, then key.
func (r *Registry) Leaves(path string) []Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.containers[path]
	if !ok || !r.files.Valid(rec.file) {
		return nil
	}
	out := make([]Unit, 0, len(rec.leaves))
	for name := range rec.leaves {
		if leaf := r.leaves[Key{Module: path, Name: name}]; leaf != nil {
			out = append(out, leaf.unit(rec.file))
		}
	}
	slices.SortFunc(out, CompareLeaves)
	return out
}

// Containers lists valid containers ordered by module path.
func (r *Registry) Containers() []Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Unit, 0, len(r.containers))
	for path, rec := range r.containers {
		if !r.files.Valid(rec.file) {
			continue
		}
		out = append(out, Unit{Key: Key{Module: path}, Kind: KindContainer, File: rec.file, gen: rec.gen})
	}
	slices.SortFunc(out, func(a, b Unit) int { return strings.Compare(a.Key.Module, b.Key.Module) })
	return out
}

// ContainerOf returns the container backed by file.
func (r *Registry) ContainerOf(file source.FileID) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.byFile[file]
	if !ok {
		return Unit{}, false
	}
	return r.resolveLocked(Key{Module: path})
}

// LeafAt returns the innermost leaf of file whose span contains offset.
func (r *Registry) LeafAt(file source.FileID, offset uint32) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.byFile[file]
	if !ok || !r.files.Valid(file) {
		return Unit{}, false
	}
	rec := r.containers[path]
	var best *leafRec
	for name := range rec.leaves {
		leaf := r.leaves[Key{Module: path, Name: name}]
		if leaf == nil || !leaf.span.Contains(offset) {
			continue
		}
		if best == nil || leaf.span.Len() < best.span.Len() ||
			(leaf.span.Len() == best.span.Len() && leaf.key.Compare(best.key) < 0) {
			best = leaf
		}
	}
	if best == nil {
		return Unit{}, false
	}
	return best.unit(rec.file), true
}

// CompareLeaves orders leaves by span start, then key.
func CompareLeaves(a, b Unit) int {
	switch {
	case a.Span.Start < b.Span.Start:
		return -1
	case a.Span.Start > b.Span.Start:
		return 1
	}
	return a.Key.Compare(b.Key)
}

func (l *leafRec) unit(file source.FileID) Unit {
	return Unit{Key: l.key, Kind: KindLeaf, File: file, Span: l.span, Parent: l.parent, gen: l.gen}
}
