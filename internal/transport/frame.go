package transport

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// Flag marks the role of a frame within a message.
type Flag uint8

const (
	// FlagHeaders marks the first frame of a message; its payload is the
	// marshalled header block.
	FlagHeaders Flag = 1 << iota
	// FlagEnd marks the last frame of a message.
	FlagEnd
)

const (
	// MaxFramePayload bounds a single frame.
	MaxFramePayload = 64 << 10

	frameHeaderSize = 10
)

// Frame is the unit written to the wire:
//
//	[channel:1][flags:1][len:4][crc32:4][payload]
//
// The checksum covers channel, flags and payload.
type Frame struct {
	Channel ChannelID
	Flags   Flag
	Payload []byte
}

func frameCRC(f Frame) uint32 {
	crc := crc32.ChecksumIEEE([]byte{byte(f.Channel), byte(f.Flags)})
	return crc32.Update(crc, crc32.IEEETable, f.Payload)
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	var hdr [frameHeaderSize]byte
	hdr[0] = byte(f.Channel)
	hdr[1] = byte(f.Flags)
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(f.Payload)))
	binary.BigEndian.PutUint32(hdr[6:10], frameCRC(f))
	dst = append(dst, hdr[:]...)
	return append(dst, f.Payload...)
}

// WriteFrame writes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxFramePayload {
		return domain.ErrFrameCorrupt.WithDetailsf("payload of %d bytes", len(f.Payload))
	}
	_, err := w.Write(AppendFrame(make([]byte, 0, frameHeaderSize+len(f.Payload)), f))
	return err
}

// ReadFrame reads one frame. io.EOF is returned only on a clean boundary.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	f := Frame{Channel: ChannelID(hdr[0]), Flags: Flag(hdr[1])}
	n := binary.BigEndian.Uint32(hdr[2:6])
	if n > MaxFramePayload {
		return Frame{}, domain.ErrFrameCorrupt.WithDetailsf("payload of %d bytes", n)
	}
	if f.Channel >= numChannels {
		return Frame{}, domain.ErrFrameCorrupt.WithDetailsf("channel %d", f.Channel)
	}
	f.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	if frameCRC(f) != binary.BigEndian.Uint32(hdr[6:10]) {
		return Frame{}, domain.ErrFrameCorrupt.WithDetails("checksum mismatch")
	}
	return f, nil
}
