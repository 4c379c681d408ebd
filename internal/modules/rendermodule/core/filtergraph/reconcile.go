package filtergraph

import "math"

// MediaShape is what the probe knows about one blend input. Unknown axes carry
// a false Known flag and are never treated as zero.
type MediaShape struct {
	Width           int
	Height          int
	DimensionsKnown bool
	DurationSec     float64
	DurationKnown   bool
}

func (m MediaShape) hasDimensions() bool {
	return m.DimensionsKnown && m.Width > 0 && m.Height > 0
}

func (m MediaShape) hasDuration() bool {
	return m.DurationKnown && m.DurationSec > 0 && !math.IsInf(m.DurationSec, 0)
}

// Input selects one of the two blend inputs.
type Input int

const (
	InputNone Input = iota
	InputA
	InputB
)

// Plan is the outcome of reconciling two blend inputs.
type Plan struct {
	// LoopInput plays LoopCount times in total; both inputs are then trimmed to TrimSec.
	LoopInput Input
	LoopCount int
	TrimSec   float64

	// ScaleInput is resized to exactly Width x Height.
	ScaleInput Input
	Width      int
	Height     int

	// DurationSec is the blended output length when known, otherwise 0.
	DurationSec float64
}

// durations closer than this are considered equal
const durationTolerance = 0.001

// Reconcile aligns durations and dimensions of a and b. The shorter input is
// looped ceil(longer/shorter) times; the input with the smaller pixel area is
// upscaled to the larger one's exact size.
func Reconcile(a, b MediaShape) Plan {
	var p Plan

	switch {
	case a.hasDuration() && b.hasDuration():
		longer, shorter := a.DurationSec, b.DurationSec
		p.LoopInput = InputB
		if b.DurationSec > a.DurationSec {
			longer, shorter = b.DurationSec, a.DurationSec
			p.LoopInput = InputA
		}
		p.DurationSec = longer
		if longer-shorter <= durationTolerance {
			p.LoopInput = InputNone
			break
		}
		p.LoopCount = int(math.Ceil(longer/shorter - 1e-9))
		p.TrimSec = longer
	case a.hasDuration():
		p.DurationSec = a.DurationSec
	case b.hasDuration():
		p.DurationSec = b.DurationSec
	}

	if a.hasDimensions() && b.hasDimensions() && (a.Width != b.Width || a.Height != b.Height) {
		if a.Width*a.Height < b.Width*b.Height {
			p.ScaleInput, p.Width, p.Height = InputA, b.Width, b.Height
		} else {
			p.ScaleInput, p.Width, p.Height = InputB, a.Width, a.Height
		}
	}

	return p
}
