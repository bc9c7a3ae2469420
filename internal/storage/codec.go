package storage

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// Field numbers of the stored values.
const (
	pendingFieldDigest  protowire.Number = 1
	pendingFieldAddedAt protowire.Number = 2
	pendingFieldID      protowire.Number = 3

	resumeFieldID     protowire.Number = 1
	resumeFieldOffset protowire.Number = 2
)

func encodePending(pd domain.PendingDigest) []byte {
	var b []byte
	b = protowire.AppendTag(b, pendingFieldDigest, protowire.BytesType)
	b = protowire.AppendBytes(b, pd.Digest)
	b = protowire.AppendTag(b, pendingFieldAddedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, unixNano(pd.AddedAt))
	b = protowire.AppendTag(b, pendingFieldID, protowire.BytesType)
	b = protowire.AppendString(b, pd.RecordID)
	return b
}

func decodePending(b []byte) (domain.PendingDigest, error) {
	var pd domain.PendingDigest
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == pendingFieldDigest && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			pd.Digest = append([]byte(nil), v...)
			return n, nil
		case num == pendingFieldAddedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if v > 0 {
				pd.AddedAt = time.Unix(0, int64(v))
			}
			return n, nil
		case num == pendingFieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			pd.RecordID = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return pd, err
}

func encodeResume(id string, offset int64) []byte {
	var b []byte
	b = protowire.AppendTag(b, resumeFieldID, protowire.BytesType)
	b = protowire.AppendString(b, id)
	b = protowire.AppendTag(b, resumeFieldOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(offset))
	return b
}

func decodeResume(b []byte) (string, int64, error) {
	var (
		id     string
		offset int64
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == resumeFieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			id = v
			return n, nil
		case num == resumeFieldOffset && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			offset = int64(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return "", 0, err
	}
	if id == "" || offset < 0 {
		return "", 0, fmt.Errorf("resume point without record id or with offset %d", offset)
	}
	return id, offset, nil
}

// walkFields calls fn for every field in b. fn consumes the value and
// returns its length, or a negative protowire error code.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}
