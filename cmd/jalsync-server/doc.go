// Package main is the entry point of jalsync-server.
//
// The server accepts record transfer sessions over the channel transport
// and the HTTP transport. Outgoing records are read from
// <record_dir>/outgoing and incoming records are committed under
// <record_dir>/incoming. Pending digests and journal resume points are
// kept in a badger or sqlite store so they survive restarts.
//
// Usage:
//
//	jalsync-server [--config /etc/jalsync/server.yaml]
//
// Editing the config file reloads the log level, the ledger thresholds
// and the session limit without a restart.
package main
