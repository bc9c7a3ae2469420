package record

import (
	"hash"
	"io"
)

// Sentinel terminates every segment.
const Sentinel = "BREAK"

// Segment is a bounded read handle over one record segment. Bytes read
// through it feed the record digest.
type Segment struct {
	src       io.Reader
	h         hash.Hash
	length    int64
	remaining int64
	onFirst   func()
	short     bool
}

func newSegment(src io.Reader, h hash.Hash, length int64, onFirst func()) *Segment {
	return &Segment{src: src, h: h, length: length, remaining: length, onFirst: onFirst}
}

// Read implements io.Reader. It returns io.EOF at the segment boundary and
// io.ErrUnexpectedEOF when the source ends early.
func (s *Segment) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.src.Read(p)
	if n > 0 {
		if s.h != nil {
			s.h.Write(p[:n])
		}
		s.remaining -= int64(n)
		if s.onFirst != nil {
			s.onFirst()
			s.onFirst = nil
		}
	}
	if err == io.EOF {
		if s.remaining > 0 {
			s.short = true
			return n, io.ErrUnexpectedEOF
		}
		err = nil
	}
	return n, err
}

// Len is the number of bytes this segment carries on the wire.
func (s *Segment) Len() int64 { return s.length }

// Remaining is the number of bytes not yet read.
func (s *Segment) Remaining() int64 { return s.remaining }

// drain consumes the rest of the segment and reports whether anything was left.
func (s *Segment) drain() (undrained bool, err error) {
	if s.remaining == 0 {
		return false, nil
	}
	_, err = io.Copy(io.Discard, s)
	if err == nil && s.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	return true, err
}
