// Package dispatch compiles the units of a JobSet concurrently on a bounded
// worker pool.
//
// The dispatcher validates the mapping, sizes a pool from the physical core
// count, and runs one task per request. Each task re-checks staleness when it
// starts: current units report success without touching the compiler. Tasks
// share nothing mutable and may finish in any order.
//
// Failure handling:
//   - Invalid mapping (duplicate object, missing source) -> ResolutionError, nothing runs
//   - Compiler exits non-zero -> unit failed, siblings keep running
//   - Staleness check error -> unit failed, siblings keep running
//   - Unit timeout -> that unit fails, its process is terminated
//   - Fail-fast or parent ctx cancelled -> units not yet started are marked not_started
//
// Dispatch always waits for every started compiler process to exit. A killed
// compiler may leave a truncated object behind, so in-flight units are never
// cancelled because of failures elsewhere.
package dispatch
