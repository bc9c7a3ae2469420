// Package transport defines the connection abstraction the session engine
// runs on, plus the frame codec and multiplexer shared by the concrete
// variants in transport/channel (TCP) and transport/httpx (HTTP).
//
// A connection carries three logical channels: control for negotiation
// and session teardown, record for records and subscription requests, and
// digest for digest batches and per-record outcomes. Each message is a
// header frame followed by body frames; the last frame carries FlagEnd.
package transport
