// Package experiment splits live traffic across backend variants and
// evaluates the outcomes.
//
// A Tracker owns a set of experiment configs (named, time-bounded traffic
// splits) and the append-only outcome collections recorded against them.
// SelectVariant performs the weighted draw for one call, RecordOutcome
// appends evidence, and Analyze recomputes per-variant statistics on demand.
// Statistics are a derived view: they are never stored, only recomputed from
// the outcome records.
//
// Two caveats are deliberate and worth restating wherever results surface:
// the confidence figure is a sample-size heuristic capped at 95%, not a
// p-value, and the "balanced pick" recommendation is a fixed weighted blend,
// not a statistical claim.
package experiment
