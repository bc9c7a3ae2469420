// Package service runs jalsync sessions.
//
// The Negotiator answers or sends the initialize exchange and produces a
// domain.Session. The Engine then drives the session over a transport.Conn:
//
//   - Publisher: reads records from a Source and streams them on the record
//     channel, answering journal resume requests
//   - Subscriber: validates incoming records, hands them to a Sink and
//     feeds their digests to the DigestLedger
//   - DigestLedger: batches pending digests and reconciles them with the
//     peer on the digest channel
//
// The SessionRegistry enforces the concurrency limit and evicts the least
// recently active session when it is reached. PeerAuthorizer and
// AdmissionLimiter gate initialize requests per peer address.
package service
