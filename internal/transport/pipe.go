package transport

import (
	"context"
	"io"
)

// Pipe returns two connected in-memory connections, the analogue of
// net.Pipe for in-process peers and tests.
func Pipe() (Conn, Conn) {
	abR, abW := io.Pipe()
	baR, baW := io.Pipe()

	a := NewMux(KindChannel, "pipe", pipeWriter(abW), func() error {
		_ = abW.Close()
		return baR.Close()
	})
	b := NewMux(KindChannel, "pipe", pipeWriter(baW), func() error {
		_ = baW.Close()
		return abR.Close()
	})
	go pump(abR, b)
	go pump(baR, a)
	return a, b
}

func pipeWriter(w *io.PipeWriter) FrameWriter {
	return FrameWriterFunc(func(_ context.Context, f Frame) error { return WriteFrame(w, f) })
}

func pump(r io.Reader, dst *Mux) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-dst.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	for {
		f, err := ReadFrame(r)
		if err != nil {
			dst.Fail(err)
			return
		}
		if err := dst.Deliver(ctx, f); err != nil {
			dst.Fail(err)
			return
		}
	}
}
