package record

import (
	"bufio"
	"hash"
	"io"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// Source holds the three segment readers of an outbound record. Payload
// always starts at byte zero, also when resuming.
type Source struct {
	SysMeta io.Reader
	AppMeta io.Reader
	Payload io.Reader
}

// Write frames a record onto dst and returns its digest. The first offset
// payload bytes are hashed but not sent. A nil hash disables the digest.
func Write(dst io.Writer, env domain.RecordEnvelope, src Source, h hash.Hash, offset int64) ([]byte, error) {
	if offset < 0 || offset > env.PayloadLength {
		return nil, domain.ErrInvalidArgument.WithDetailsf("resume offset %d outside payload of %d bytes", offset, env.PayloadLength)
	}
	bw := bufio.NewWriter(dst)
	hw := func(w io.Writer) io.Writer {
		if h == nil {
			return w
		}
		return io.MultiWriter(w, h)
	}

	if err := copySegment(hw(bw), src.SysMeta, env.SysMetaLength, "system metadata"); err != nil {
		return nil, err
	}
	if _, err := bw.WriteString(Sentinel); err != nil {
		return nil, err
	}
	if err := copySegment(hw(bw), src.AppMeta, env.AppMetaLength, "application metadata"); err != nil {
		return nil, err
	}
	if _, err := bw.WriteString(Sentinel); err != nil {
		return nil, err
	}
	if offset > 0 {
		if err := copySegment(hw(io.Discard), src.Payload, offset, "payload prefix"); err != nil {
			return nil, err
		}
	}
	if err := copySegment(hw(bw), src.Payload, env.PayloadLength-offset, "payload"); err != nil {
		return nil, err
	}
	if _, err := bw.WriteString(Sentinel); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, nil
	}
	return h.Sum(nil), nil
}

func copySegment(dst io.Writer, src io.Reader, n int64, name string) error {
	if n == 0 {
		return nil
	}
	if src == nil {
		return incomplete("%s: no source for %d bytes", name, n)
	}
	copied, err := io.CopyN(dst, src, n)
	if err == io.EOF {
		return incomplete("%s: source ended after %d of %d bytes", name, copied, n)
	}
	return err
}
