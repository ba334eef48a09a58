package display

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"ambilight/internal/frame"
)

// ffmpegSource streams the region through ffmpeg's x11grab device.
// x11grab delivers BGR0 natively, so bgra output avoids a conversion pass.
type ffmpegSource struct {
	*rawStream
	cancel context.CancelFunc
	cmd    *exec.Cmd

	closeOnce sync.Once
	closeErr  error
}

func newFFmpegSource(r Region) (*ffmpegSource, error) {
	if !hasExecutable("ffmpeg") {
		return nil, fmt.Errorf("ffmpeg not found")
	}

	display := os.Getenv("DISPLAY")
	if display == "" {
		return nil, fmt.Errorf("DISPLAY not set")
	}

	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-nostdin",
		"-loglevel", "error",
		"-f", "x11grab",
		"-framerate", "60",
		"-video_size", fmt.Sprintf("%dx%d", r.Width, r.Height),
		"-i", fmt.Sprintf("%s+%d,%d", display, r.X, r.Y),
		"-f", "rawvideo",
		"-pix_fmt", "bgra",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	s := &ffmpegSource{
		rawStream: newRawStream(r, frame.BGRA32),
		cancel:    cancel,
		cmd:       cmd,
	}

	go s.readFrames(stdout)

	if !s.waitFirst() {
		_ = s.Close()
		return nil, fmt.Errorf("ffmpeg: timed out waiting for first frame")
	}

	return s, nil
}

func (s *ffmpegSource) Name() string { return "ffmpeg" }

func (s *ffmpegSource) Capture() (*frame.Frame, error) { return s.latest() }

func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.closeErr = s.cmd.Wait()
	})
	return s.closeErr
}
