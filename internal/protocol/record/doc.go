// Package record frames and unframes the three record segments.
//
// On the wire a record is
//
//	sysmeta BREAK appmeta BREAK payload BREAK
//
// with segment lengths announced in the record header. The running digest
// covers the segment bytes in that order and never the sentinels. A resumed
// journal record carries only payload[offset:]; the reader primes the
// digest with the locally held payload[:offset] before the live bytes.
package record
