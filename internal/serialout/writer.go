package serialout

import (
	"context"
	"io"
	"sync"

	"pinger-sim/internal/pinger"
)

// Writer publishes one sentence per measurement to an underlying stream.
type Writer struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func NewWriter(w io.WriteCloser) *Writer {
	return &Writer{w: w}
}

// Open configures device as a raw tty at baud and returns a Writer over it.
func Open(device string, baud int) (*Writer, error) {
	f, err := openSerial(device, baud)
	if err != nil {
		return nil, err
	}
	return NewWriter(f), nil
}

// Publish implements pinger.Publisher.
func (w *Writer) Publish(_ context.Context, m pinger.Measurement) error {
	line := Sentence(m)
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write([]byte(line))
	return err
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	return w.w.Close()
}
