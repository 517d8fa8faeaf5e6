// Package storage persists the script collection and the scheduler state.
//
// Both are whole documents: scripts are a JSON array, the scheduler state a
// JSON object. A backend only knows how to read and replace named documents;
// Store layers locking, decoding and the read-modify-write helpers on top.
package storage
