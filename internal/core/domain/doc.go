// Package domain defines the core domain models for jalsync.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - Session: negotiated session between a Publisher and a Subscriber
//   - RecordEnvelope: per-record segment lengths and validation rules
//   - PendingDigest / ResumeState: ledger and journal resume values
//   - Errors: domain-specific error definitions
package domain
