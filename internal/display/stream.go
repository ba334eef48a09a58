package display

import (
	"io"
	"sync"
	"time"

	"ambilight/internal/frame"
)

const firstFrameTimeout = 5 * time.Second

// rawStream keeps the latest fixed-size frame read from a child process.
type rawStream struct {
	region Region
	format frame.Format
	size   int

	done  chan struct{}
	ready chan struct{} // closed when first frame is available

	mu  sync.Mutex
	buf []byte
}

func newRawStream(r Region, format frame.Format) *rawStream {
	return &rawStream{
		region: r,
		format: format,
		size:   r.Width * r.Height * format.BytesPerPixel(),
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

func (s *rawStream) readFrames(r io.Reader) {
	defer close(s.done)
	buf := make([]byte, s.size)
	first := true
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		s.mu.Lock()
		if s.buf == nil {
			s.buf = make([]byte, s.size)
		}
		copy(s.buf, buf)
		s.mu.Unlock()
		if first {
			close(s.ready)
			first = false
		}
	}
}

// waitFirst blocks until a frame is buffered, the reader exits, or the timeout.
func (s *rawStream) waitFirst() bool {
	select {
	case <-s.ready:
		return true
	case <-s.done:
		return false
	case <-time.After(firstFrameTimeout):
		return false
	}
}

func (s *rawStream) latest() (*frame.Frame, error) {
	select {
	case <-s.done:
		return nil, &CaptureError{Region: s.region, Err: ErrDisplayGone}
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return nil, &CaptureError{Region: s.region, Err: ErrNoFrame}
	}
	f, err := frame.FromRaw(s.buf, s.region.Width, s.region.Height, 0, s.format)
	if err != nil {
		return nil, &CaptureError{Region: s.region, Err: err}
	}
	return f, nil
}
