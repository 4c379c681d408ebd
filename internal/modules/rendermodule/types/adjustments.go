// Package types provides the value types shared by the render module: adjustment
// descriptors, render and blend requests, slot keys, invocation descriptors and
// the lifecycle event union.
package types

// TextOverlay describes an optional caption burned into a rendered clip.
type TextOverlay struct {
	Content string `json:"content"`
	Size    int    `json:"size"`
	Color   string `json:"color"` // "#rrggbb" or a named color; reduced to light or dark
}

// Adjustments is the per-clip transform requested by the caller. Values are
// taken as-is here; the filter graph builder clamps every numeric field before
// it reaches ffmpeg.
type Adjustments struct {
	ResolutionFraction float64 `json:"resolutionFraction"` // 0.05..1.0
	MaxColors          int     `json:"maxColors"`          // 2..256
	FrameRate          int     `json:"frameRate"`          // 1..60
	TargetDurationMs   int64   `json:"targetDurationMs"`   // 0 keeps the trimmed length

	Text TextOverlay `json:"text"`

	// Color grading
	Brightness   float64 `json:"brightness"` // -1..1, neutral 0
	Contrast     float64 `json:"contrast"`   // 0..3, neutral 1
	Saturation   float64 `json:"saturation"` // 0..3, neutral 1
	Hue          float64 `json:"hue"`        // degrees, -180..180
	Sepia        float64 `json:"sepia"`      // 0..1
	RedBalance   float64 `json:"redBalance"` // 0..2, neutral 1
	GreenBalance float64 `json:"greenBalance"`
	BlueBalance  float64 `json:"blueBalance"`

	// Stylistic effects
	Pixelate       float64 `json:"pixelate"`      // 0..50
	HueCycleSpeed  float64 `json:"hueCycleSpeed"` // rotations per second, 0..3
	MotionTrail    float64 `json:"motionTrail"`   // 0..1
	Sharpen        float64 `json:"sharpen"`       // 0..1
	EdgeDetect     bool    `json:"edgeDetect"`
	EdgeThreshold  float64 `json:"edgeThreshold"` // 0..1
	EdgeBoost      float64 `json:"edgeBoost"`     // 0..2
	Negate         bool    `json:"negate"`
	FlipHorizontal bool    `json:"flipHorizontal"`
	FlipVertical   bool    `json:"flipVertical"`
}

// DefaultAdjustments returns an adjustment set where every optional stage is at
// its neutral value.
func DefaultAdjustments() Adjustments {
	return Adjustments{
		ResolutionFraction: 0.5,
		MaxColors:          128,
		FrameRate:          15,
		Contrast:           1,
		Saturation:         1,
		RedBalance:         1,
		GreenBalance:       1,
		BlueBalance:        1,
		EdgeThreshold:      0.5,
	}
}
