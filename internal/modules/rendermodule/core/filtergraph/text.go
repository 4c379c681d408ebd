package filtergraph

import (
	"os"
	"strconv"
	"strings"
)

// Text size bounds in pixels.
const (
	MinTextSize = 50
	MaxTextSize = 216
)

// TextColor is the reduced two-value overlay palette.
type TextColor int

const (
	TextLight TextColor = iota
	TextDark
)

// fill and border colors for drawtext.
func (c TextColor) colors() (string, string) {
	if c == TextDark {
		return "black", "white"
	}
	return "white", "black"
}

var namedColors = map[string][3]int{
	"white":   {255, 255, 255},
	"black":   {0, 0, 0},
	"red":     {255, 0, 0},
	"green":   {0, 128, 0},
	"lime":    {0, 255, 0},
	"blue":    {0, 0, 255},
	"yellow":  {255, 255, 0},
	"cyan":    {0, 255, 255},
	"aqua":    {0, 255, 255},
	"magenta": {255, 0, 255},
	"fuchsia": {255, 0, 255},
	"gray":    {128, 128, 128},
	"grey":    {128, 128, 128},
	"silver":  {192, 192, 192},
	"navy":    {0, 0, 128},
	"maroon":  {128, 0, 0},
	"purple":  {128, 0, 128},
	"orange":  {255, 165, 0},
	"pink":    {255, 192, 203},
}

// ReduceTextColor maps an arbitrary color string onto light or dark using its
// relative luminance. Anything unparsable is light.
func ReduceTextColor(color string) TextColor {
	rgb, ok := parseColor(color)
	if !ok {
		return TextLight
	}
	lum := 0.2126*float64(rgb[0]) + 0.7152*float64(rgb[1]) + 0.0722*float64(rgb[2])
	if lum < 128 {
		return TextDark
	}
	return TextLight
}

func parseColor(s string) ([3]int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if rgb, ok := namedColors[s]; ok {
		return rgb, true
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "#"), "0x")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 8 {
		// drop alpha
		s = s[:6]
	}
	if len(s) != 6 {
		return [3]int{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return [3]int{}, false
	}
	return [3]int{int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)}, true
}

// EscapeText escapes overlay text for the drawtext text option. ffmpeg unescapes
// the value once in the graph parser, once in the option parser and once more
// during text expansion, so the layers are applied innermost first. Line breaks
// become spaces.
func EscapeText(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	return escapeGraph(escapeOption(escapeChars(s, `\%`)))
}

// escapePath escapes a font path for the drawtext fontfile option, which is not
// expanded.
func escapePath(p string) string {
	return escapeGraph(escapeOption(p))
}

// escapeOption protects a value from the option parser, which splits on ':'.
func escapeOption(s string) string {
	return escapeChars(s, `\':`)
}

// escapeGraph protects filter arguments from the graph parser.
func escapeGraph(s string) string {
	return escapeChars(s, `\'[],;`)
}

func escapeChars(s, special string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FontResolver returns a usable outline font file or "" when none exists.
type FontResolver interface {
	ResolveFont() string
}

// FontResolverFunc adapts a function to FontResolver.
type FontResolverFunc func() string

func (f FontResolverFunc) ResolveFont() string { return f() }

// DefaultFontCandidates are common outline font locations on Linux and macOS hosts.
var DefaultFontCandidates = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/TTF/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Bold.ttf",
	"/usr/share/fonts/liberation/LiberationSans-Bold.ttf",
	"/usr/share/fonts/truetype/freefont/FreeSansBold.ttf",
	"/usr/share/fonts/noto/NotoSans-Bold.ttf",
	"/System/Library/Fonts/Supplemental/Arial Bold.ttf",
	"/Library/Fonts/Arial Bold.ttf",
}

// HostFonts checks the configured font first and then each candidate, returning
// the first regular file found.
type HostFonts struct {
	Configured string
	Candidates []string
}

func (h HostFonts) ResolveFont() string {
	paths := h.Candidates
	if paths == nil {
		paths = DefaultFontCandidates
	}
	if h.Configured != "" {
		paths = append([]string{h.Configured}, paths...)
	}
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p
		}
	}
	return ""
}
