// Package transport implements Spillway v2: the sender-owned outbox
// scheme that turns a permissionless DHT into a reliable mailbox with
// bounded storage, clock-skew tolerance, and at-least-once delivery.
//
// # DHT contract
//
// The DHT itself is out of scope; this package depends only on the
// [DHT] interface's signed put, multi-writer get, and listen/cancel
// primitives. [NewDHT] selects between the in-memory [MockDHT] used
// by tests and a caller-supplied real implementation.
//
// # Chunking
//
// Any logical value larger than ~45 KiB is split into fixed-size,
// ZSTD-compressed chunks under derived keys, with a v2 header on chunk 0
// carrying a CRC32 per chunk and a SHA3-256 content hash over the whole
// reassembled value, so repeated publishes of identical content can be
// detected from chunk 0 alone. See [SplitValue] and [ReassembleValue].
//
// # Outbox
//
// [Outbox] implements the daily-bucketed, writer-stable-value-id publish
// path (§4.3) and the listen+poll receive path, merging results into a
// single decrypt-and-store pipeline keyed by (writer fingerprint,
// offline_seq).
package transport
