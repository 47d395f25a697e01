package source

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"fortio.org/safecast"
)

type fileEntry struct {
	snap  atomic.Pointer[File]
	valid atomic.Bool
}

// FileSet manages the source files of one session. Files are addressed by
// stable FileID handles; a handle stays addressable forever, but the file
// behind it may become invalid (removed, superseded) at any time.
// FileSet is safe for concurrent use.
type FileSet struct {
	mu      sync.RWMutex
	files   []*fileEntry
	index   map[string]FileID // path -> latest id
	baseDir string
}

// NewFileSet creates a new empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{
		files: make([]*fileEntry, 0),
		index: make(map[string]FileID),
	}
}

// NewFileSetWithBase создаёт FileSet с заданной базовой директорией.
func NewFileSetWithBase(baseDir string) *FileSet {
	fs := NewFileSet()
	fs.baseDir = baseDir
	return fs
}

// BaseDir возвращает базовую директорию (или рабочую, если не задана).
func (fileSet *FileSet) BaseDir() string {
	fileSet.mu.RLock()
	dir := fileSet.baseDir
	fileSet.mu.RUnlock()
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
	}
	return dir
}

// Add stores a file from normalized bytes and returns a new FileID.
// A previous file registered under the same path is invalidated: it has been
// superseded and everything that pointed into it is stale.
func (fileSet *FileSet) Add(path, module string, content []byte, flags FileFlags) FileID {
	normalizedPath := normalizePath(path)

	fileSet.mu.Lock()
	defer fileSet.mu.Unlock()

	n, err := safecast.Conv[uint32](len(fileSet.files))
	if err != nil || FileID(n) == NoFileID {
		panic(fmt.Errorf("file set overflow: %w", err))
	}
	id := FileID(n)
	entry := &fileEntry{}
	entry.snap.Store(newFile(id, normalizedPath, module, content, flags, 0))
	entry.valid.Store(true)
	fileSet.files = append(fileSet.files, entry)

	if prev, ok := fileSet.index[normalizedPath]; ok {
		fileSet.files[prev].valid.Store(false)
	}
	fileSet.index[normalizedPath] = id
	return id
}

// AddVirtual adds a virtual file (stdin, test, event log) with the FileVirtual flag.
func (fileSet *FileSet) AddVirtual(name, module string, content []byte) FileID {
	return fileSet.Add(name, module, content, FileVirtual)
}

// Load reads a file from disk, normalizes CRLF/BOM, and calls Add.
func (fileSet *FileSet) Load(path, module string) (FileID, error) {
	content, flags, err := readNormalized(path)
	if err != nil {
		return 0, err
	}
	return fileSet.Add(path, module, content, flags), nil
}

// Update replaces the content of a valid file with a new revision.
// It returns the new revision and false when the file is gone.
func (fileSet *FileSet) Update(id FileID, content []byte) (uint32, bool) {
	entry := fileSet.entry(id)
	if entry == nil || !entry.valid.Load() {
		return 0, false
	}
	// snapshot swap is serialized by the write lock so revisions stay monotonic
	fileSet.mu.Lock()
	defer fileSet.mu.Unlock()
	prev := entry.snap.Load()
	next := newFile(id, prev.Path, prev.Module, content, prev.Flags, prev.Revision+1)
	entry.snap.Store(next)
	return next.Revision, true
}

// Reload re-reads a file from disk into a new revision. Relative paths are
// resolved against the base directory. Identical content keeps the current
// revision and reports changed=false.
func (fileSet *FileSet) Reload(id FileID) (rev uint32, changed bool, err error) {
	f := fileSet.Get(id)
	if f == nil {
		return 0, false, fmt.Errorf("unknown file id %d", id)
	}
	path := f.Path
	if base := fileSet.BaseDir(); !filepath.IsAbs(path) && base != "" {
		path = filepath.Join(base, path)
	}
	content, _, err := readNormalized(path)
	if err != nil {
		return 0, false, err
	}
	if sha256.Sum256(content) == f.Hash && fileSet.Valid(id) {
		return f.Revision, false, nil
	}
	rev, ok := fileSet.Update(id, content)
	if !ok {
		return 0, false, fmt.Errorf("%s: file is no longer valid", f.Path)
	}
	return rev, true, nil
}

// Invalidate marks a file as gone. It is idempotent and never fails.
func (fileSet *FileSet) Invalidate(id FileID) {
	if entry := fileSet.entry(id); entry != nil {
		entry.valid.Store(false)
	}
}

// Valid reports whether the file still exists. O(1), lock-free on the entry.
func (fileSet *FileSet) Valid(id FileID) bool {
	entry := fileSet.entry(id)
	return entry != nil && entry.valid.Load()
}

// Get returns the current snapshot of a file, or nil for an unknown id.
// Invalid files are still returned so callers can render their path.
func (fileSet *FileSet) Get(id FileID) *File {
	entry := fileSet.entry(id)
	if entry == nil {
		return nil
	}
	return entry.snap.Load()
}

// GetLatest returns the latest file ID for the given path, if it exists.
func (fileSet *FileSet) GetLatest(path string) (FileID, bool) {
	fileSet.mu.RLock()
	defer fileSet.mu.RUnlock()
	id, ok := fileSet.index[normalizePath(path)]
	return id, ok
}

// Locate pins span to the current revision of its file.
func (fileSet *FileSet) Locate(span Span) (Location, bool) {
	f := fileSet.Get(span.File)
	if f == nil || !fileSet.Valid(span.File) {
		return Location{}, false
	}
	return Location{Span: span, Revision: f.Revision}, true
}

// Current reports whether loc still points into the live revision of a valid file.
func (fileSet *FileSet) Current(loc Location) bool {
	f := fileSet.Get(loc.Span.File)
	return f != nil && fileSet.Valid(loc.Span.File) && f.Revision == loc.Revision
}

// Resolve converts a location into line and column positions.
// It fails for invalid files, stale revisions and out-of-range spans.
func (fileSet *FileSet) Resolve(loc Location) (start, end LineCol, ok bool) {
	if !fileSet.Current(loc) {
		return LineCol{}, LineCol{}, false
	}
	f := fileSet.Get(loc.Span.File)
	size, err := safecast.Conv[uint32](len(f.Content))
	if err != nil || loc.Span.Start > loc.Span.End || loc.Span.End > size {
		return LineCol{}, LineCol{}, false
	}
	return toLineCol(f.LineIdx, loc.Span.Start), toLineCol(f.LineIdx, loc.Span.End), true
}

// Len returns the number of file handles ever issued.
func (fileSet *FileSet) Len() int {
	fileSet.mu.RLock()
	defer fileSet.mu.RUnlock()
	return len(fileSet.files)
}

func (fileSet *FileSet) entry(id FileID) *fileEntry {
	fileSet.mu.RLock()
	defer fileSet.mu.RUnlock()
	if int(id) >= len(fileSet.files) {
		return nil
	}
	return fileSet.files[id]
}

// GetLine возвращает строку с заданным номером (1-based) из файла.
// Если строка не существует, возвращает пустую строку.
func (f *File) GetLine(lineNum uint32) string {
	if lineNum == 0 {
		return ""
	}
	lenLineIdx, err := safecast.Conv[uint32](len(f.LineIdx))
	if err != nil {
		return ""
	}
	lenContent, err := safecast.Conv[uint32](len(f.Content))
	if err != nil {
		return ""
	}

	var start, end uint32
	switch {
	case lineNum == 1:
		start = 0
	case lineNum-2 < lenLineIdx:
		start = f.LineIdx[lineNum-2] + 1
	default:
		return ""
	}
	if lineNum-1 < lenLineIdx {
		end = f.LineIdx[lineNum-1]
	} else {
		end = lenContent
	}
	if start >= lenContent || start > end {
		return ""
	}
	return string(f.Content[start:end])
}

func newFile(id FileID, path, module string, content []byte, flags FileFlags, rev uint32) *File {
	return &File{
		ID:       id,
		Path:     path,
		Module:   module,
		Content:  content,
		LineIdx:  buildLineIndex(content),
		Hash:     sha256.Sum256(content),
		Flags:    flags,
		Revision: rev,
	}
}

func readNormalized(path string) ([]byte, FileFlags, error) {
	// #nosec G304 -- path is provided by the caller
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	content, hadBOM := removeBOM(content)
	content, hadCRLF := normalizeCRLF(content)

	flags := FileFlags(0)
	if hadBOM {
		flags |= FileHadBOM
	}
	if hadCRLF {
		flags |= FileNormalizedCRLF
	}
	return content, flags, nil
}
