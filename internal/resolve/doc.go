// Package resolve turns a build manifest into a compile job set and decides,
// per unit, whether the object on disk is still current.
//
// Object paths mirror the source tree under the output directory. A unit is
// stale when its object is missing, older than the source or any dependency
// (declared, or found by following quoted #include directives), or when the
// BLAKE3 fingerprint of its source and command line differs from the one the
// ledger stored after its last successful compile.
package resolve
