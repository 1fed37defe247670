// Package file implements chunked file I/O for the net-copy transfer
// pipeline: fixed-size chunk readers and writers with a running SHA-256
// checksum over plaintext in chunk order, allowed-root path policy, and
// resume planning against persisted transfer state.
//
// The running checksum is independent of the per-chunk authentication
// tags: a stream whose chunks all verify individually but arrive
// reordered or truncated still fails the end-to-end comparison. Its hash
// state is serializable, so a resumed transfer continues the checksum
// from the checkpoint instead of rehashing from zero when state is
// available, and rehashes the existing prefix when it is not.
//
// Destination files are written as "<name>.part" and promoted to their
// final name only after the checksum is confirmed, so a crashed or
// aborted transfer never leaves a complete-looking file behind.
package file
