// Package memory implements the admission governor that decides whether a
// conversion may start under the configured memory ceiling.
//
// Decode buffers dwarf the source file, so admission works on a coarse
// estimate derived from payload size rather than live measurement. The
// governor tracks estimates for admitted work, plus releasable allocations
// such as retained scratch directories, and reclaims the oldest releasable
// ones when a new task would push usage past the threshold.
package memory
