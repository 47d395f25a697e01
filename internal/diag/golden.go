package diag

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"arbor/internal/source"
)

type goldenDiagnostic struct {
	Severity string
	Code     string
	Path     string
	Line     uint32
	Column   uint32
	Message  string
}

// FormatShortDiagnostics renders diagnostics into a stable, single-line-per-entry
// representation intended for CLI short output and test fixtures. Diagnostics
// whose location no longer resolves (invalid file, stale revision) are skipped.
func FormatShortDiagnostics(diags []*Diagnostic, fs *source.FileSet, includeNotes bool) string {
	if fs == nil || len(diags) == 0 {
		return ""
	}

	rendered := make([]goldenDiagnostic, 0, len(diags))
	for _, d := range diags {
		rendered = appendDiagnostic(rendered, d, fs, includeNotes)
	}

	sort.SliceStable(rendered, func(i, j int) bool {
		di, dj := rendered[i], rendered[j]
		if di.Path != dj.Path {
			return di.Path < dj.Path
		}
		if di.Line != dj.Line {
			return di.Line < dj.Line
		}
		if di.Column != dj.Column {
			return di.Column < dj.Column
		}
		return false
	})

	var b strings.Builder
	for i, d := range rendered {
		fmt.Fprintf(&b, "%s %s %s:%d:%d %s", d.Severity, d.Code, d.Path, d.Line, d.Column, d.Message)
		if i < len(rendered)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func appendDiagnostic(out []goldenDiagnostic, d *Diagnostic, fs *source.FileSet, includeNotes bool) []goldenDiagnostic {
	if d == nil {
		return out
	}
	loc := d.Location()
	path, line, col, ok := resolveLocation(fs, loc)
	if !ok {
		return out
	}
	out = append(out, goldenDiagnostic{
		Severity: SeverityLabel(d.Severity),
		Code:     d.Code.ID(),
		Path:     path,
		Line:     line,
		Column:   col,
		Message:  sanitizeMessage(d.Message),
	})

	if includeNotes {
		for _, note := range d.Notes {
			npath, nline, ncol, nok := resolveLocation(fs, source.Location{Span: note.Span, Revision: loc.Revision})
			if !nok {
				continue
			}
			out = append(out, goldenDiagnostic{
				Severity: "note",
				Code:     d.Code.ID(),
				Path:     npath,
				Line:     nline,
				Column:   ncol,
				Message:  sanitizeMessage(note.Msg),
			})
		}
	}
	return out
}

func resolveLocation(fs *source.FileSet, loc source.Location) (path string, line, col uint32, ok bool) {
	start, _, ok := fs.Resolve(loc)
	if !ok {
		return "", 0, 0, false
	}
	file := fs.Get(loc.Span.File)
	path = file.Path
	if file.Flags&source.FileVirtual == 0 {
		if rel, err := source.RelativePath(file.Path, fs.BaseDir()); err == nil {
			path = rel
		}
	}
	return normalizePath(path), start.Line, start.Col, true
}

func normalizePath(path string) string {
	p := filepath.ToSlash(path)
	for strings.HasPrefix(p, "./") {
		p = strings.TrimPrefix(p, "./")
	}
	return p
}

// SeverityLabel is the lowercase label used in one-line output.
func SeverityLabel(sev Severity) string {
	switch sev {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	case SevWarningUnused:
		return "unused"
	case SevGoal:
		return "goal"
	default:
		return "info"
	}
}

func sanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	msg = strings.ReplaceAll(msg, "\r", "\n")
	msg = strings.ReplaceAll(msg, "\n", " ")
	return strings.TrimSpace(msg)
}
