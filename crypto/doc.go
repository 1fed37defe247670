// Package crypto implements the cipher backends and per-session crypto
// engine for the net-copy protocol.
//
// # Overview
//
// The package provides three layers:
//
//   - Cipher: a uniform encrypt/decrypt contract implemented by every
//     supported algorithm (ChaCha20-Poly1305, AES-256-GCM, AES-CTR with
//     HMAC-SHA256, and a test-only XOR obfuscator), keeping the rest of
//     the system cipher-agnostic
//   - Engine: per-session state binding one cipher to one session key,
//     with strictly monotonic per-direction nonce counters
//   - Key schedule: HKDF-SHA256 derivation of the session key, auth-proof
//     key, and nonce bases from the pre-shared secret, an ephemeral X25519
//     exchange, and the handshake randoms
//
// AES-256-GCM carries two execution paths behind one algorithm identity: a
// CPU path using the standard library (with hardware AES where the runtime
// provides it) and an optional accelerator path probed once at process
// start (see the accel subpackage). Both paths produce byte-identical
// output; the split is a local performance decision invisible to the peer.
//
// # Nonce discipline
//
// Each direction of a session derives a distinct nonce base from the key
// schedule. The nonce for chunk n is the base with the big-endian counter
// XORed into its trailing eight bytes. Counters never repeat and never
// wrap: exhaustion terminates the session, which bounds the bytes
// encrypted under one session key.
package crypto
