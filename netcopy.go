// Package netcopy transfers files between hosts over an encrypted,
// authenticated, resumable protocol.
//
// Both peers hold the same pre-shared 256-bit key. Every session runs a
// fresh handshake: cipher negotiation, per-session key derivation with an
// ephemeral X25519 contribution, and a keyed possession proof. File data
// travels as compressed, encrypted chunks with a running SHA-256 checksum
// confirmed end to end before the destination file is promoted from its
// part name. Interrupted transfers resume from the durable part file.
//
// Server embeds the accepting side with a fixed worker pool; Client runs
// push (Send) and pull (Fetch) transfers. The cmd/netcopy command wraps
// both for operators.
package netcopy

import "github.com/Sean-Khorasani/net-copy/protocol"

// Version is the release version of this library.
const Version = "1.0.0"

// TransferStats summarizes one completed transfer.
type TransferStats = protocol.Stats
