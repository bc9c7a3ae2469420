// Package tlsroots builds the TLS configuration of jalsync listeners and
// dialers.
//
// A Pool holds the roots peers are verified against. A Watcher keeps the
// local certificate and reloads it when the files change, so a renewed
// certificate takes effect without a restart.
package tlsroots
