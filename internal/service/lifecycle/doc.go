// Package lifecycle implements the nightly prospect lifecycle job.
//
// One run executes four stages strictly in order: match visitors to
// campaigns, calculate intent scores, create or update prospects, and
// assign rooms. Per-item failures are counted and never abort a stage; a
// stage-level failure aborts the remaining stages but the run still
// returns partial statistics. A distributed lock keeps concurrent
// invocations (cron plus manual trigger) from overlapping.
//
// The service depends on the Repository interface defined in this package
// and should never import from api/.
package lifecycle
