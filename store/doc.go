// Package store implements the engine's local persistence: the message
// store (one row per envelope, ordered and deduplicated), group/GEK
// metadata, and a keyserver cache mapping fingerprints to cached public
// keys. Each of the three is its own embedded pebble database, opened
// by the engine under its own directory of the engine's data directory;
// writes that touch several keys go through one batch so a crash
// mid-write never leaves a record half-updated.
package store
