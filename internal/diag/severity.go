package diag

import (
	"fmt"
	"strings"
)

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	// SevInfo is for informational diagnostics.
	SevInfo Severity = iota
	// SevGoal reports a remaining proof or analysis obligation.
	SevGoal
	// SevWarningUnused flags unused definitions; ranks with SevWarning.
	SevWarningUnused
	SevWarning
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "INFO"
	case SevGoal:
		return "GOAL"
	case SevWarningUnused:
		return "UNUSED"
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Rank orders severities for display: Error > Warning = WarningUnused > Goal > Info.
func (s Severity) Rank() int {
	switch s {
	case SevError:
		return 3
	case SevWarning, SevWarningUnused:
		return 2
	case SevGoal:
		return 1
	case SevInfo:
		return 0
	}
	return -1
}

// AtLeast reports whether s ranks at or above minimum.
func (s Severity) AtLeast(minimum Severity) bool {
	return s.Rank() >= minimum.Rank()
}

// ParseSeverity accepts the lowercase or uppercase names used by String.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "":
		return SevInfo, nil
	case "goal":
		return SevGoal, nil
	case "unused", "warning_unused":
		return SevWarningUnused, nil
	case "warning", "warn":
		return SevWarning, nil
	case "error":
		return SevError, nil
	}
	return SevInfo, fmt.Errorf("unknown severity %q", s)
}

// Stage tells which analysis pass produced a diagnostic. The store keeps one
// bucket per stage so a pass can clear its own findings.
type Stage uint8

const (
	StageResolution Stage = iota
	StageAnalysis
)

func (s Stage) String() string {
	switch s {
	case StageResolution:
		return "resolution"
	case StageAnalysis:
		return "analysis"
	}
	return "unknown"
}
