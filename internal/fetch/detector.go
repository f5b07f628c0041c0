package fetch

import (
	"bytes"
	"sync/atomic"
)

// Page bodies served without JavaScript carry the reader payload inside
// a params script tag. Bodies missing both markers are app shells that
// only render client side.
var shapeMarkers = [][]byte{
	[]byte(`id="params"`),
	[]byte("jsonArray"),
}

// ShapeDetector recognizes bodies that lack the expected reader payload
// and counts consecutive misses so the session can escalate to the
// rendering fetcher for the rest of the job.
type ShapeDetector struct {
	threshold int
	misses    atomic.Int32
}

// NewShapeDetector builds a detector that trips after threshold
// consecutive malformed bodies. A threshold below one trips immediately.
func NewShapeDetector(threshold int) *ShapeDetector {
	if threshold < 1 {
		threshold = 1
	}
	return &ShapeDetector{threshold: threshold}
}

// Valid reports whether body carries the reader payload and updates the
// consecutive-miss counter.
func (d *ShapeDetector) Valid(body []byte) bool {
	for _, marker := range shapeMarkers {
		if bytes.Contains(body, marker) {
			d.misses.Store(0)
			return true
		}
	}
	d.misses.Add(1)
	return false
}

// ShouldEscalate reports whether enough consecutive misses accumulated
// to justify switching to the rendering fetcher.
func (d *ShapeDetector) ShouldEscalate() bool {
	return int(d.misses.Load()) >= d.threshold
}
