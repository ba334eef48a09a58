package display

import (
	"fmt"

	"github.com/kbinani/screenshot"

	"ambilight/internal/frame"
)

// screenshotSource grabs the region on demand with kbinani/screenshot.
type screenshotSource struct {
	region Region
	list   Lister
}

func newScreenshotSource(r Region, list Lister) *screenshotSource {
	return &screenshotSource{region: r, list: list}
}

func (s *screenshotSource) Name() string { return "screenshot" }

func (s *screenshotSource) Capture() (*frame.Frame, error) {
	if !present(s.region, s.list) {
		return nil, &CaptureError{Region: s.region, Err: ErrDisplayGone}
	}
	img, err := screenshot.CaptureRect(s.region.Rect())
	if err != nil {
		return nil, &CaptureError{Region: s.region, Err: fmt.Errorf("capturing screen: %w", err)}
	}
	return frame.FromImage(img), nil
}

func (s *screenshotSource) Close() error { return nil }
