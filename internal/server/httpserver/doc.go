// Package httpserver serves the HTTP listener of jalsync-server.
//
// One mux carries the record exchange transport, Prometheus metrics, a
// health probe and the admin RPC. The admin routes are limited to the
// configured networks.
package httpserver
