// Package httpx carries the multiplexed frame stream over plain HTTP.
//
// The client POSTs the frames of one message per request to ExchangePath.
// The server queues frames for the client and returns them in the response
// to an empty POST (a poll), holding the poll open for up to PollWait. The
// connection is named by the JAL-Connection-Id header assigned on first
// contact. DELETE closes it.
package httpx
