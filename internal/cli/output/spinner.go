package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a status line until stopped.
type Spinner struct {
	w        io.Writer
	interval time.Duration

	mu      sync.Mutex
	message string
	done    chan struct{}
	stopped chan struct{}
}

// NewSpinner creates a stopped spinner.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{w: w, message: message, interval: 100 * time.Millisecond}
}

// Start begins the animation. Calling Start twice is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.loop(s.done, s.stopped)
}

// SetMessage replaces the status text.
func (s *Spinner) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

// Stop ends the animation and prints final on its own line.
func (s *Spinner) Stop(final string) {
	s.mu.Lock()
	done, stopped := s.done, s.stopped
	s.done = nil
	s.mu.Unlock()
	if done == nil {
		return
	}
	close(done)
	<-stopped
	fmt.Fprintf(s.w, "\r\033[K%s\n", final)
}

func (s *Spinner) loop(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for i := 0; ; i++ {
		s.mu.Lock()
		msg := s.message
		s.mu.Unlock()
		fmt.Fprintf(s.w, "\r\033[K%s %s", spinnerFrames[i%len(spinnerFrames)], msg)
		select {
		case <-done:
			return
		case <-t.C:
		}
	}
}
