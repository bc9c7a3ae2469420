// Package wire encodes and decodes protocol messages.
//
// Every message is a header block (JAL-Message plus message-specific
// headers) optionally followed by a body. Decoding is pure: callers hand in
// already framed bytes and get typed messages or a MissingHeader /
// UnexpectedValue error back.
package wire
