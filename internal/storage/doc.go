// Package storage persists session state that must outlive a connection.
//
// A StateStore keeps the pending digests of each ledger and the journal
// resume point of each session key on top of an embedded KV engine, so a
// reconnecting peer picks up where the previous session stopped. OpenKV
// selects badger or sqlite.
//
// Keys:
//
//	pending/<session key>/<record id>  digest and time added
//	resume/<session key>               record id and payload offset
//
// Values are protobuf wire encoded.
package storage
