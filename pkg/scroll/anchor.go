// Package scroll keeps the viewport visually stationary while older history
// is prepended, and jumps to the newest message exactly once per
// conversation on first load.
package scroll

// Viewport abstracts the scrollable surface the presentation layer renders
// into. Extent is the total scrollable size, Offset the current position
// from the top; both in whatever unit the renderer uses (pixels, rows).
type Viewport interface {
	Extent() int
	Offset() int
	SetOffset(offset int)
}

// Anchor records the viewport geometry around a prepend so the content the
// user was looking at does not jump.
type Anchor struct {
	view Viewport

	capturedExtent int
	capturedOffset int
	captured       bool
	firstLoadDone  bool
}

func NewAnchor(view Viewport) *Anchor {
	return &Anchor{view: view}
}

// Reset re-arms the first-load scroll. Called on conversation switch.
func (a *Anchor) Reset() {
	a.captured = false
	a.firstLoadDone = false
}

// CaptureBeforePrepend records the current extent and offset. Call before
// merging an older page.
func (a *Anchor) CaptureBeforePrepend() {
	a.capturedExtent = a.view.Extent()
	a.capturedOffset = a.view.Offset()
	a.captured = true
}

// DropCapture discards a pending capture without touching the offset. Called
// when the fetch the capture was taken for never merges.
func (a *Anchor) DropCapture() {
	a.captured = false
}

// RestoreAfterPrepend shifts the offset by the growth in extent, so the
// previously visible content stays where it was. No-op without a prior
// capture.
func (a *Anchor) RestoreAfterPrepend() {
	if !a.captured {
		return
	}
	a.captured = false

	delta := a.view.Extent() - a.capturedExtent
	if delta <= 0 {
		return
	}
	a.view.SetOffset(a.capturedOffset + delta)
}

// ScrollToBottomIfFirstLoad moves the viewport to the newest message on the
// very first successful load of a conversation. Later merges and live
// arrivals while scrolled up never force-scroll.
func (a *Anchor) ScrollToBottomIfFirstLoad() {
	if a.firstLoadDone {
		return
	}
	a.firstLoadDone = true
	a.view.SetOffset(a.view.Extent())
}
