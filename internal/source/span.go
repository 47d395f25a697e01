package source

import (
	"fmt"
)

type Span struct {
	File  FileID
	Start uint32 // в байтах включительно
	End   uint32 // в байтах не включительно
}

func (s Span) Empty() bool {
	return s.Start == s.End
}

func (s Span) Len() uint32 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d-%d", s.File, s.Start, s.End)
}

// Contains reports whether offset falls inside the span.
// An empty span contains only its start offset.
func (s Span) Contains(offset uint32) bool {
	if s.Empty() {
		return offset == s.Start
	}
	return offset >= s.Start && offset < s.End
}

// Encloses reports whether other lies entirely within s in the same file.
func (s Span) Encloses(other Span) bool {
	return s.File == other.File && s.Start <= other.Start && other.End <= s.End
}

func (s Span) Cover(other Span) Span {
	if s.File != other.File {
		return s
	}
	if other.Start < s.Start {
		s.Start = other.Start
	}
	if other.End > s.End {
		s.End = other.End
	}
	return s
}

// Location pins a span to the file revision it was computed against.
// A location whose revision no longer matches the file is stale.
type Location struct {
	Span     Span
	Revision uint32
}

func (l Location) String() string {
	return fmt.Sprintf("%s@r%d", l.Span, l.Revision)
}
