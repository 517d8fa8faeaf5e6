// Package script defines the records scriptd persists: scripts, their
// execution history and the scheduler enable flags.
package script
