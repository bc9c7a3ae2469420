// Package channel is the multiplexed TCP transport: one long-lived
// connection per session carrying the control, record and digest channels
// as interleaved frames. TLS is optional on both the listener and dialer.
package channel
