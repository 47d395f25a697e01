// Package diag defines the diagnostic model shared by the analysis engine,
// the diagnostic store and the rendered tree.
//
// # Data model
//
// Diagnostic is the central record:
//
//   - Severity – Info, Goal, WarningUnused, Warning, Error. Rank collapses
//     the two warning kinds for ordering.
//   - Stage – Resolution or Analysis; the store keeps one bucket per stage.
//   - Code – compact numeric identifier with a stable string form (codes.go).
//   - Owner – weak unit.Key of the definition the finding belongs to. May be
//     zero; the tree then attributes it by position.
//   - Primary + Revision – the span and the file revision it was computed
//     against. Once the file moves on the location is stale.
//   - Seq – insertion order assigned by the store.
//
// A diagnostic is identified by its pointer. Once a store accepts it, nobody
// mutates it; it is only removed.
//
// # Emitting diagnostics
//
// Producers use a diag.Reporter to decouple emission from storage. Build a
// report with NewReportBuilder, chain WithOwner / AtRevision / WithNote and
// call Emit. Reporters compose: the session puts a DedupReporter in front of
// a MultiReporter over the store, and the CLI collects into a BagReporter.
package diag
