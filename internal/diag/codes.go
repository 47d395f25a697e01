package diag

import "fmt"

type Code uint16

const (
	UnknownCode Code = 0

	// Resolution stage
	ResInfo            Code = 1000
	ResUnresolvedName  Code = 1001
	ResDuplicateDef    Code = 1002
	ResAmbiguousImport Code = 1003
	ResMissingModule   Code = 1004
	ResImportCycle     Code = 1005

	// Analysis stage
	AnaInfo            Code = 2000
	AnaTypeMismatch    Code = 2001
	AnaUnusedDef       Code = 2002
	AnaUnusedImport    Code = 2003
	AnaOpenGoal        Code = 2004
	AnaUnreachable     Code = 2005
	AnaNonExhaustive   Code = 2006
	AnaTerminationFail Code = 2007
	AnaDeprecatedUsage Code = 2008

	// Tooling
	ToolInfo        Code = 3000
	ToolEngineCrash Code = 3001
)

var codeDescription = map[Code]string{
	UnknownCode:        "Unknown error",
	ResInfo:            "Resolution information",
	ResUnresolvedName:  "Unresolved name",
	ResDuplicateDef:    "Duplicate definition",
	ResAmbiguousImport: "Ambiguous import",
	ResMissingModule:   "Missing module",
	ResImportCycle:     "Import cycle detected",
	AnaInfo:            "Analysis information",
	AnaTypeMismatch:    "Type mismatch",
	AnaUnusedDef:       "Unused definition",
	AnaUnusedImport:    "Unused import",
	AnaOpenGoal:        "Open goal",
	AnaUnreachable:     "Unreachable clause",
	AnaNonExhaustive:   "Non-exhaustive match",
	AnaTerminationFail: "Termination check failed",
	AnaDeprecatedUsage: "Usage of deprecated element",
	ToolInfo:           "Tool information",
	ToolEngineCrash:    "Analysis engine crashed",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("RES%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("ANA%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("TOOL%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}

// Codes returns every known code; used by synthetic producers.
func Codes() []Code {
	return []Code{
		ResUnresolvedName, ResDuplicateDef, ResAmbiguousImport, ResMissingModule, ResImportCycle,
		AnaTypeMismatch, AnaUnusedDef, AnaUnusedImport, AnaOpenGoal, AnaUnreachable,
		AnaNonExhaustive, AnaTerminationFail, AnaDeprecatedUsage,
	}
}

// DefaultSeverity is the severity producers use for a code unless they know better.
func (c Code) DefaultSeverity() Severity {
	switch c {
	case AnaUnusedDef, AnaUnusedImport:
		return SevWarningUnused
	case AnaOpenGoal:
		return SevGoal
	case AnaDeprecatedUsage, AnaUnreachable:
		return SevWarning
	case ResInfo, AnaInfo, ToolInfo:
		return SevInfo
	}
	return SevError
}

// DefaultStage is the stage that normally reports c.
func (c Code) DefaultStage() Stage {
	if int(c) >= 1000 && int(c) < 2000 {
		return StageResolution
	}
	return StageAnalysis
}
