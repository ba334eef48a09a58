// Package display enumerates monitors and captures pixels from them.
package display

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Region is a rectangular area of the virtual desktop.
// Index 0 is the combined desktop; real displays start at 1.
type Region struct {
	Index  int `json:"index"`
	Width  int `json:"width"`
	Height int `json:"height"`
	X      int `json:"left"`
	Y      int `json:"top"`
}

func (r Region) String() string {
	return fmt.Sprintf("monitor %d: %dx%d @ (%d, %d)", r.Index, r.Width, r.Height, r.X, r.Y)
}

// Rect returns the region as an image rectangle in desktop coordinates.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Valid reports whether the region has a positive area.
func (r Region) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Lister returns the bounds of every active display in platform order.
type Lister func() []image.Rectangle

// ScreenBounds lists active displays using kbinani/screenshot.
func ScreenBounds() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}

// Enumerate returns the combined desktop followed by every active display.
func Enumerate(list Lister) ([]Region, error) {
	if list == nil {
		list = ScreenBounds
	}
	bounds := list()
	if len(bounds) == 0 {
		return nil, fmt.Errorf("no active displays")
	}

	var all image.Rectangle
	regions := make([]Region, 0, len(bounds)+1)
	regions = append(regions, Region{})
	for i, b := range bounds {
		all = all.Union(b)
		regions = append(regions, fromRect(i+1, b))
	}
	regions[0] = fromRect(0, all)
	return regions, nil
}

// Lookup returns the region with the given index.
func Lookup(regions []Region, idx int) (Region, bool) {
	if idx < 0 || idx >= len(regions) {
		return Region{}, false
	}
	return regions[idx], true
}

func fromRect(idx int, b image.Rectangle) Region {
	return Region{Index: idx, Width: b.Dx(), Height: b.Dy(), X: b.Min.X, Y: b.Min.Y}
}

// present reports whether the region still matches a live display.
func present(r Region, list Lister) bool {
	bounds := list()
	if r.Index == 0 {
		var all image.Rectangle
		for _, b := range bounds {
			all = all.Union(b)
		}
		return all.Eq(r.Rect())
	}
	if r.Index > len(bounds) {
		return false
	}
	return bounds[r.Index-1].Eq(r.Rect())
}
