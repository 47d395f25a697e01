package source

type (
	// FileID uniquely identifies a source file within a FileSet.
	// IDs are never reused, so a stale FileID can always be checked for validity.
	FileID uint32
	// FileFlags encodes metadata about a source file.
	FileFlags uint8 // метаданные
)

// NoFileID marks a span or location that is not attached to any file.
const NoFileID FileID = ^FileID(0)

const (
	// FileVirtual indicates the file was added from memory (test, stdin, event log).
	FileVirtual FileFlags = 1 << iota
	FileHadBOM
	FileNormalizedCRLF
)

// File is an immutable snapshot of one revision of a source file.
// FileSet.Update replaces the snapshot, it never mutates an existing one.
type File struct {
	ID       FileID
	Path     string
	Module   string // module path the file is registered under, may be empty
	Content  []byte
	LineIdx  []uint32
	Hash     [32]byte
	Flags    FileFlags
	Revision uint32
}

// LineCol represents a human-readable position in a source file.
type LineCol struct {
	Line uint32 // 1-based
	Col  uint32 // 1-based
}
