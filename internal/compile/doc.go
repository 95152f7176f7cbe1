// Package compile defines the data model shared by the resolver, the
// single-unit compiler and the parallel dispatcher.
//
// A JobSet is built once per build from the resolver's object->source mapping.
// It holds one Request per translation unit plus a read-only invocation Context
// and the rebuild-needed predicate. The dispatcher turns each Request into a
// Unit and hands it to a Compiler; nothing in a JobSet is mutated once dispatch
// starts.
//
// Error taxonomy:
//   - CompilerInvocationError: one unit's compiler exited non-zero or timed out
//   - ResolutionError: the mapping is malformed; fatal before dispatch
//   - TopologyError: core-count detection failed; callers fall back to one worker
//   - BuildError: aggregate of every failed unit in a dispatch
package compile
