// Package diagstore keeps the durable diagnostic facts of a project, bucketed
// per file and per stage. Buckets of files that became invalid are purged
// lazily on the next access.
package diagstore

import (
	"slices"
	"sync"
	"sync/atomic"

	"arbor/internal/diag"
	"arbor/internal/source"
	"arbor/internal/unit"
)

type bucket struct {
	mu         sync.Mutex
	resolution []*diag.Diagnostic
	analysis   []*diag.Diagnostic
}

func (b *bucket) emptyLocked() bool {
	return len(b.resolution) == 0 && len(b.analysis) == 0
}

// Change describes one mutation of the store.
type Change struct {
	File    source.FileID
	Added   []*diag.Diagnostic
	Removed []*diag.Diagnostic
}

// Store is the single owner of diagnostics. It is safe for concurrent use and
// does not depend on the session's serialized context.
type Store struct {
	mu       sync.RWMutex
	files    *source.FileSet
	units    *unit.Registry
	buckets  map[source.FileID]*bucket
	seq      atomic.Uint64
	onChange atomic.Pointer[func(Change)]
}

// New creates a store bound to a file set and a registry. The registry is
// used only for ancestry and validity checks when clearing by leaf.
func New(files *source.FileSet, units *unit.Registry) *Store {
	return &Store{
		files:   files,
		units:   units,
		buckets: make(map[source.FileID]*bucket),
	}
}

// OnChange installs a hook called after each mutation, outside any lock.
func (s *Store) OnChange(fn func(Change)) {
	if fn == nil {
		s.onChange.Store(nil)
		return
	}
	s.onChange.Store(&fn)
}

func (s *Store) notify(c Change) {
	if len(c.Added) == 0 && len(c.Removed) == 0 {
		return
	}
	if fn := s.onChange.Load(); fn != nil {
		(*fn)(c)
	}
}

// Report accepts d into the bucket of its primary file. Reports for invalid
// files purge that file instead. nil diagnostics and diagnostics without a
// file are dropped. A diagnostic the store already holds is ignored; one that
// was accepted and removed before is stored as a copy.
func (s *Store) Report(d *diag.Diagnostic) {
	if d == nil || d.Primary.File == source.NoFileID {
		return
	}
	file := d.Primary.File
	if !s.files.Valid(file) {
		s.purge(file)
		return
	}
	if s.files.Get(file) == nil {
		return
	}

	// the map lock is held so a concurrent drop cannot orphan the bucket
	s.mu.Lock()
	b := s.buckets[file]
	if b == nil {
		b = &bucket{}
		s.buckets[file] = b
	}
	b.mu.Lock()
	if d.Seq != 0 {
		if slices.Contains(b.resolution, d) || slices.Contains(b.analysis, d) {
			b.mu.Unlock()
			s.mu.Unlock()
			return
		}
		// reported before; the removed one may still be rendered, so it stays untouched
		cp := *d
		d = &cp
	}
	d.Seq = s.seq.Add(1)
	switch d.Stage {
	case diag.StageResolution:
		b.resolution = append(b.resolution, d)
	default:
		b.analysis = append(b.analysis, d)
	}
	b.mu.Unlock()
	s.mu.Unlock()

	s.notify(Change{File: file, Added: []*diag.Diagnostic{d}})
}

// GetAll returns resolution diagnostics followed by analysis diagnostics.
// For an invalid file the result is empty and the file is purged.
func (s *Store) GetAll(file source.FileID) []*diag.Diagnostic {
	if !s.files.Valid(file) {
		s.purge(file)
		return nil
	}
	b := s.bucketFor(file)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*diag.Diagnostic, 0, len(b.resolution)+len(b.analysis))
	out = append(out, b.resolution...)
	return append(out, b.analysis...)
}

// AnalysisDiagnostics returns only the analysis bucket of file.
func (s *Store) AnalysisDiagnostics(file source.FileID) []*diag.Diagnostic {
	if !s.files.Valid(file) {
		s.purge(file)
		return nil
	}
	b := s.bucketFor(file)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.analysis)
}

// ClearResolutionDiagnostics drops the resolution bucket of file.
func (s *Store) ClearResolutionDiagnostics(file source.FileID) {
	b := s.bucketFor(file)
	if b == nil {
		return
	}
	b.mu.Lock()
	removed := b.resolution
	b.resolution = nil
	empty := b.emptyLocked()
	b.mu.Unlock()
	if empty {
		s.dropIfEmpty(file, b)
	}
	s.notify(Change{File: file, Removed: removed})
}

// ClearAnalysisDiagnostics clears analysis findings of file. With a leaf, only
// diagnostics owned by the leaf, by something nested in it, or by a unit that
// is no longer valid are removed.
func (s *Store) ClearAnalysisDiagnostics(file source.FileID, leaf *unit.Key) {
	b := s.bucketFor(file)
	if b == nil {
		return
	}
	b.mu.Lock()
	var removed []*diag.Diagnostic
	if leaf == nil {
		removed = b.analysis
		b.analysis = nil
	} else {
		kept := b.analysis[:0:0]
		for _, d := range b.analysis {
			if s.clearedBy(d, *leaf) {
				removed = append(removed, d)
			} else {
				kept = append(kept, d)
			}
		}
		b.analysis = kept
	}
	empty := b.emptyLocked()
	b.mu.Unlock()
	if empty {
		s.dropIfEmpty(file, b)
	}
	s.notify(Change{File: file, Removed: removed})
}

func (s *Store) clearedBy(d *diag.Diagnostic, leaf unit.Key) bool {
	if !d.HasOwner() {
		return false
	}
	if d.Owner == leaf {
		return true
	}
	if s.units == nil {
		return false
	}
	if !s.units.IsValidKey(d.Owner) {
		return true
	}
	return s.units.IsAncestor(leaf, d.Owner)
}

// HasAny reports whether any valid file has diagnostics. Invalid files found
// on the way are evicted.
func (s *Store) HasAny() bool {
	found := false
	for _, file := range s.knownFiles() {
		if !s.files.Valid(file) {
			s.purge(file)
			continue
		}
		if b := s.bucketFor(file); b != nil {
			b.mu.Lock()
			if !b.emptyLocked() {
				found = true
			}
			b.mu.Unlock()
		}
	}
	return found
}

// Errors returns the diagnostics of every valid file.
func (s *Store) Errors() map[source.FileID][]*diag.Diagnostic {
	out := make(map[source.FileID][]*diag.Diagnostic)
	for _, file := range s.knownFiles() {
		if ds := s.GetAll(file); len(ds) > 0 {
			out[file] = ds
		}
	}
	return out
}

// Files lists the valid files that have diagnostics, in id order.
func (s *Store) Files() []source.FileID {
	var out []source.FileID
	for _, file := range s.knownFiles() {
		if s.files.Valid(file) {
			out = append(out, file)
		} else {
			s.purge(file)
		}
	}
	slices.Sort(out)
	return out
}

// ClearAll drops every diagnostic.
func (s *Store) ClearAll() {
	s.mu.Lock()
	old := s.buckets
	s.buckets = make(map[source.FileID]*bucket)
	s.mu.Unlock()
	for file, b := range old {
		b.mu.Lock()
		removed := append(b.resolution, b.analysis...)
		b.resolution, b.analysis = nil, nil
		b.mu.Unlock()
		s.notify(Change{File: file, Removed: removed})
	}
}

// Len returns the number of stored diagnostics across valid files.
func (s *Store) Len() int {
	n := 0
	for _, ds := range s.Errors() {
		n += len(ds)
	}
	return n
}

func (s *Store) knownFiles() []source.FileID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]source.FileID, 0, len(s.buckets))
	for file := range s.buckets {
		out = append(out, file)
	}
	return out
}

func (s *Store) bucketFor(file source.FileID) *bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buckets[file]
}

func (s *Store) dropIfEmpty(file source.FileID, b *bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[file] != b {
		return
	}
	b.mu.Lock()
	empty := b.emptyLocked()
	b.mu.Unlock()
	if empty {
		delete(s.buckets, file)
	}
}

func (s *Store) purge(file source.FileID) {
	s.mu.Lock()
	b, ok := s.buckets[file]
	if ok {
		delete(s.buckets, file)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	b.mu.Lock()
	removed := append(b.resolution, b.analysis...)
	b.resolution, b.analysis = nil, nil
	b.mu.Unlock()
	s.notify(Change{File: file, Removed: removed})
}

var _ diag.Reporter = (*Store)(nil)
