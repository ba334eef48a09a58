// Package frame holds the pixel buffers passed between pipeline stages.
package frame

import (
	"fmt"
	"image"
)

// RGB holds an 8-bit color value.
type RGB struct {
	R, G, B uint8
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Format identifies the byte layout of a raw capture buffer.
type Format int

const (
	// RGB24 is the canonical layout: 3 bytes per pixel, R first.
	RGB24 Format = iota
	// RGBA32 is 4 bytes per pixel, R first, alpha ignored.
	RGBA32
	// BGRA32 is 4 bytes per pixel, B first, alpha (or padding) ignored.
	// Most platform capture APIs deliver this order.
	BGRA32
)

func (f Format) String() string {
	switch f {
	case RGB24:
		return "rgb24"
	case RGBA32:
		return "rgba"
	case BGRA32:
		return "bgra"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// BytesPerPixel returns the pixel size of the layout.
func (f Format) BytesPerPixel() int {
	if f == RGB24 {
		return 3
	}
	return 4
}

// Frame is a row-major, top-left origin pixel buffer.
// Frames that leave the display package are always RGB24 with a stride of
// 3*Width.
type Frame struct {
	Width  int
	Height int
	Format Format
	Pix    []byte
}

// New allocates a zeroed RGB24 frame.
func New(w, h int) *Frame {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &Frame{Width: w, Height: h, Format: RGB24, Pix: make([]byte, w*h*3)}
}

// Empty reports whether the frame has no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.Width <= 0 || f.Height <= 0
}

// At returns the color at (x, y). Coordinates are clamped to the frame.
func (f *Frame) At(x, y int) RGB {
	if f.Empty() {
		return RGB{}
	}
	x = clamp(x, 0, f.Width-1)
	y = clamp(y, 0, f.Height-1)
	off := (y*f.Width + x) * 3
	return RGB{R: f.Pix[off], G: f.Pix[off+1], B: f.Pix[off+2]}
}

// Set writes the color at (x, y). Out of range coordinates are ignored.
func (f *Frame) Set(x, y int, c RGB) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	off := (y*f.Width + x) * 3
	f.Pix[off] = c.R
	f.Pix[off+1] = c.G
	f.Pix[off+2] = c.B
}

// FromRaw converts a raw capture buffer into an RGB24 frame.
// stride is the number of bytes per source row; 0 means tightly packed.
func FromRaw(raw []byte, w, h, stride int, format Format) (*Frame, error) {
	bpp := format.BytesPerPixel()
	if stride == 0 {
		stride = w * bpp
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", w, h)
	}
	if stride < w*bpp {
		return nil, fmt.Errorf("stride %d too small for %d %s pixels", stride, w, format)
	}
	if len(raw) < (h-1)*stride+w*bpp {
		return nil, fmt.Errorf("short %s buffer: %d bytes for %dx%d", format, len(raw), w, h)
	}

	out := New(w, h)
	di := 0
	for y := 0; y < h; y++ {
		row := raw[y*stride : y*stride+w*bpp]
		switch format {
		case RGB24:
			copy(out.Pix[di:di+w*3], row)
			di += w * 3
		case RGBA32:
			for x := 0; x < w; x++ {
				si := x * 4
				out.Pix[di] = row[si]
				out.Pix[di+1] = row[si+1]
				out.Pix[di+2] = row[si+2]
				di += 3
			}
		case BGRA32:
			for x := 0; x < w; x++ {
				si := x * 4
				out.Pix[di] = row[si+2]
				out.Pix[di+1] = row[si+1]
				out.Pix[di+2] = row[si]
				di += 3
			}
		default:
			return nil, fmt.Errorf("unsupported pixel format %s", format)
		}
	}
	return out, nil
}

// FromImage converts any image into an RGB24 frame.
func FromImage(img image.Image) *Frame {
	switch src := img.(type) {
	case *image.RGBA:
		return fromPix(src.Pix, src.Stride, src.Rect.Dx(), src.Rect.Dy())
	case *image.NRGBA:
		// Sources here are opaque, so NRGBA and RGBA share channel bytes.
		return fromPix(src.Pix, src.Stride, src.Rect.Dx(), src.Rect.Dy())
	}

	b := img.Bounds()
	out := New(b.Dx(), b.Dy())
	di := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out.Pix[di] = uint8(r >> 8)
			out.Pix[di+1] = uint8(g >> 8)
			out.Pix[di+2] = uint8(bl >> 8)
			di += 3
		}
	}
	return out
}

func fromPix(pix []byte, stride, w, h int) *Frame {
	out := New(w, h)
	di := 0
	for y := 0; y < h; y++ {
		row := pix[y*stride : y*stride+w*4]
		for x := 0; x < w; x++ {
			si := x * 4
			out.Pix[di] = row[si]
			out.Pix[di+1] = row[si+1]
			out.Pix[di+2] = row[si+2]
			di += 3
		}
	}
	return out
}

// NRGBA returns an opaque *image.NRGBA copy of the frame.
func (f *Frame) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	f.fill(img.Pix)
	return img
}

// RGBA returns an opaque *image.RGBA copy of the frame.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	f.fill(img.Pix)
	return img
}

func (f *Frame) fill(dst []byte) {
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		dst[i*4] = f.Pix[i*3]
		dst[i*4+1] = f.Pix[i*3+1]
		dst[i*4+2] = f.Pix[i*3+2]
		dst[i*4+3] = 255
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
