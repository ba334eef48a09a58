package display

import (
	"errors"
	"fmt"
	"os/exec"

	"ambilight/internal/frame"
)

// Backend names accepted by Open.
const (
	BackendAuto       = "auto"
	BackendPipeWire   = "pipewire"
	BackendFFmpeg     = "ffmpeg"
	BackendScreenshot = "screenshot"
)

// ErrDisplayGone is returned when a region no longer matches a live display.
var ErrDisplayGone = errors.New("display not available")

// ErrNoFrame is returned by streaming backends before the first frame arrives.
var ErrNoFrame = errors.New("no frame captured yet")

// ErrInvalidRegion is returned for regions with no area.
var ErrInvalidRegion = errors.New("invalid capture region")

// CaptureError wraps every failure produced while capturing a region.
type CaptureError struct {
	Region Region
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Region, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Source captures one region and returns RGB24 frames.
type Source interface {
	Capture() (*frame.Frame, error)
	Name() string
	Close() error
}

// Open returns a capture source for the region. With BackendAuto it tries
// PipeWire, then FFmpeg, then falls back to kbinani/screenshot.
func Open(r Region, backend string) (Source, error) {
	if !r.Valid() {
		return nil, &CaptureError{Region: r, Err: ErrInvalidRegion}
	}

	switch backend {
	case BackendPipeWire:
		s, err := newPipeWireSource(r)
		if err != nil {
			return nil, &CaptureError{Region: r, Err: err}
		}
		return s, nil
	case BackendFFmpeg:
		s, err := newFFmpegSource(r)
		if err != nil {
			return nil, &CaptureError{Region: r, Err: err}
		}
		return s, nil
	case BackendScreenshot:
		return newScreenshotSource(r, ScreenBounds), nil
	case "", BackendAuto:
	default:
		return nil, fmt.Errorf("unknown capture backend %q", backend)
	}

	if s, err := newPipeWireSource(r); err == nil {
		return s, nil
	}
	if s, err := newFFmpegSource(r); err == nil {
		return s, nil
	}
	return newScreenshotSource(r, ScreenBounds), nil
}

// hasExecutable reports whether the named program is on PATH.
func hasExecutable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
