package types

import "strings"

// BlendMode is one of the sixteen supported compositing modes.
type BlendMode string

const (
	BlendNormal     BlendMode = "normal"
	BlendMultiply   BlendMode = "multiply"
	BlendScreen     BlendMode = "screen"
	BlendOverlay    BlendMode = "overlay"
	BlendDarken     BlendMode = "darken"
	BlendLighten    BlendMode = "lighten"
	BlendColorDodge BlendMode = "color-dodge"
	BlendColorBurn  BlendMode = "color-burn"
	BlendHardLight  BlendMode = "hard-light"
	BlendSoftLight  BlendMode = "soft-light"
	BlendDifference BlendMode = "difference"
	BlendExclusion  BlendMode = "exclusion"
	BlendAddition   BlendMode = "addition"
	BlendSubtract   BlendMode = "subtract"
	BlendAverage    BlendMode = "average"
	BlendNegation   BlendMode = "negation"
)

// ffmpeg's blend filter vocabulary.
var blendKeywords = map[BlendMode]string{
	BlendNormal:     "normal",
	BlendMultiply:   "multiply",
	BlendScreen:     "screen",
	BlendOverlay:    "overlay",
	BlendDarken:     "darken",
	BlendLighten:    "lighten",
	BlendColorDodge: "dodge",
	BlendColorBurn:  "burn",
	BlendHardLight:  "hardlight",
	BlendSoftLight:  "softlight",
	BlendDifference: "difference",
	BlendExclusion:  "exclusion",
	BlendAddition:   "addition",
	BlendSubtract:   "subtract",
	BlendAverage:    "average",
	BlendNegation:   "negation",
}

// BlendModes lists every supported mode in declaration order.
func BlendModes() []BlendMode {
	return []BlendMode{
		BlendNormal, BlendMultiply, BlendScreen, BlendOverlay,
		BlendDarken, BlendLighten, BlendColorDodge, BlendColorBurn,
		BlendHardLight, BlendSoftLight, BlendDifference, BlendExclusion,
		BlendAddition, BlendSubtract, BlendAverage, BlendNegation,
	}
}

// Normalize lower-cases the mode, accepts underscores and spaces as separators
// and falls back to normal for anything unknown.
func (m BlendMode) Normalize() BlendMode {
	n := BlendMode(strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(string(m))), "_", "-"), " ", "-"))
	if _, ok := blendKeywords[n]; ok {
		return n
	}
	return BlendNormal
}

// Valid reports whether the mode names one of the supported modes.
func (m BlendMode) Valid() bool {
	n := BlendMode(strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(string(m))), "_", "-"), " ", "-"))
	_, ok := blendKeywords[n]
	return ok
}

// Keyword returns the ffmpeg blend filter keyword for the mode.
func (m BlendMode) Keyword() string {
	return blendKeywords[m.Normalize()]
}
