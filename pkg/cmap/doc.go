// Package cmap provides a concurrent map keyed by string identifiers.
//
// Keys are spread over a power-of-two number of shards by their murmur3
// hash, each shard guarded by its own RWMutex. It holds the live session
// and connection tables, which are read on every message and written only
// on connect and disconnect.
package cmap
