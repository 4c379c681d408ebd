package filtergraph

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

func fixedFont(path string) FontResolver {
	return FontResolverFunc(func() string { return path })
}

func TestClipStagesNeutralDefaults(t *testing.T) {
	b := NewBuilder(fixedFont("/fonts/sans.ttf"))

	stages := b.ClipStages(types.DefaultAdjustments())

	assert.Equal(t, []string{
		"setpts=PTS-STARTPTS",
		"fps=15",
		"scale=trunc(iw*0.500/2)*2:trunc(ih*0.500/2)*2:flags=lanczos",
		"format=rgba",
	}, stages)

	graph := b.Clip(types.DefaultAdjustments())
	assert.True(t, strings.HasPrefix(graph, "[0:v]setpts=PTS-STARTPTS,"))
	assert.True(t, strings.HasSuffix(graph, "paletteuse=dither=floyd_steinberg[out]"))
	assert.Contains(t, graph, "palettegen=max_colors=128:stats_mode=full")
}

func TestClipStagesScaleAlwaysEven(t *testing.T) {
	b := NewBuilder(nil)
	even := regexp.MustCompile(`^scale=trunc\(iw\*(\d+\.\d{3})/2\)\*2:trunc\(ih\*(\d+\.\d{3})/2\)\*2:flags=lanczos$`)

	for _, r := range []float64{-1, 0, 0.01, 0.05, 0.1, 0.333, 0.5, 0.777, 1.0, 4.0} {
		adj := types.DefaultAdjustments()
		adj.ResolutionFraction = r

		stage := b.ClipStages(adj)[2]
		m := even.FindStringSubmatch(stage)
		require.NotNil(t, m, "fraction %v produced %q", r, stage)
		assert.Equal(t, m[1], m[2])
	}

	adj := types.DefaultAdjustments()
	adj.ResolutionFraction = 0.01
	assert.Contains(t, b.ClipStages(adj)[2], "iw*0.050/2")
	adj.ResolutionFraction = 3
	assert.Contains(t, b.ClipStages(adj)[2], "iw*1.000/2")
}

func TestPaletteWorkflowClampsColors(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-10, 2}, {0, 2}, {1, 2}, {2, 2}, {64, 64}, {256, 256}, {257, 256}, {100000, 256},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			assert.Contains(t, PaletteWorkflow(tt.in), fmt.Sprintf("palettegen=max_colors=%d:", tt.want))
		})
	}
}

func TestClipStagesFrameRateClamp(t *testing.T) {
	b := NewBuilder(nil)
	adj := types.DefaultAdjustments()

	adj.FrameRate = 70
	assert.Equal(t, "fps=60", b.ClipStages(adj)[1])

	adj.FrameRate = 0
	assert.Equal(t, "fps=1", b.ClipStages(adj)[1])
}

func TestClipStagesOrder(t *testing.T) {
	b := NewBuilder(fixedFont("/fonts/sans.ttf"))
	adj := types.DefaultAdjustments()
	adj.Brightness = 0.2
	adj.Hue = 45
	adj.Sepia = 1
	adj.RedBalance = 1.5
	adj.HueCycleSpeed = 10
	adj.MotionTrail = 0.5
	adj.Sharpen = 1
	adj.Pixelate = 6
	adj.EdgeDetect = true
	adj.EdgeThreshold = 0
	adj.EdgeBoost = 1
	adj.Negate = true
	adj.FlipHorizontal = true
	adj.FlipVertical = true
	adj.Text = types.TextOverlay{Content: "hello", Size: 10, Color: "#000000"}

	stages := b.ClipStages(adj)

	want := []string{
		"setpts=PTS-STARTPTS",
		"fps=15",
		"scale=trunc(iw*0.500/2)*2:trunc(ih*0.500/2)*2:flags=lanczos",
		"eq=brightness=0.200:contrast=1.000:saturation=1.000",
		"hue=h=45.000",
		"colorchannelmixer=rr=0.393:rg=0.769:rb=0.189:gr=0.349:gg=0.686:gb=0.168:br=0.272:bg=0.534:bb=0.131",
		"colorchannelmixer=rr=1.500:gg=1.000:bb=1.000",
		"hue=h=t*1080.000",
		"tmix=frames=6:weights='1 1 1 1 1 1'",
		"unsharp=lx=5:ly=5:la=1.500",
		"pixelize=width=8:height=8",
		"edgedetect=low=0.200:high=0.400",
		"eq=contrast=2.000:brightness=0.100",
		"negate",
		"hflip",
		"vflip",
		"drawtext=fontfile=/fonts/sans.ttf:text=hello:fontsize=50:fontcolor=black:bordercolor=white:borderw=3:x=(w-text_w)/2:y=h-text_h-24",
		"format=rgba",
	}
	assert.Equal(t, want, stages)
}

func TestSepiaInterpolation(t *testing.T) {
	assert.Equal(t,
		"colorchannelmixer=rr=0.697:rg=0.385:rb=0.095:gr=0.174:gg=0.843:gb=0.084:br=0.136:bg=0.267:bb=0.566",
		sepiaStage(0.5))
}

func TestMotionTrailFrameBounds(t *testing.T) {
	b := NewBuilder(nil)
	adj := types.DefaultAdjustments()

	adj.MotionTrail = 0.01
	assert.Contains(t, b.ClipStages(adj), "tmix=frames=2:weights='1 1'")

	adj.MotionTrail = 5
	assert.Contains(t, b.ClipStages(adj), "tmix=frames=10:weights='1 1 1 1 1 1 1 1 1 1'")
}

func TestPixelateBlockBounds(t *testing.T) {
	b := NewBuilder(nil)
	adj := types.DefaultAdjustments()

	adj.Pixelate = 0.2
	assert.Contains(t, b.ClipStages(adj), "pixelize=width=2:height=2")

	adj.Pixelate = 500
	assert.Contains(t, b.ClipStages(adj), "pixelize=width=52:height=52")
}

func TestPixelateKeepsFrameSize(t *testing.T) {
	// a 1280x720 source at the smallest fraction is 64x36, smaller than one
	// 52px block; only the resolution stage may resize the frame
	b := NewBuilder(nil)
	adj := types.DefaultAdjustments()
	adj.ResolutionFraction = 0.05
	adj.Pixelate = 50

	stages := b.ClipStages(adj)
	require.Len(t, stages, 5)
	assert.Equal(t, "scale=trunc(iw*0.050/2)*2:trunc(ih*0.050/2)*2:flags=lanczos", stages[2])
	assert.Equal(t, "pixelize=width=52:height=52", stages[3])
	for i, stage := range stages {
		if i != 2 {
			assert.NotContains(t, stage, "scale=", stage)
		}
	}
}

func TestEdgeThresholds(t *testing.T) {
	for _, th := range []float64{-1, 0, 0.25, 0.5, 0.75, 1, 2} {
		low, high := EdgeThresholds(th)
		assert.GreaterOrEqual(t, low, 0.05)
		assert.LessOrEqual(t, low, 0.2)
		assert.GreaterOrEqual(t, high, low+0.05-1e-9)
		assert.LessOrEqual(t, high, 0.4)
	}

	low, high := EdgeThresholds(1)
	assert.InDelta(t, 0.05, low, 1e-9)
	assert.InDelta(t, 0.10, high, 1e-9)
}

func TestEdgeDetectWithoutBoost(t *testing.T) {
	b := NewBuilder(nil)
	adj := types.DefaultAdjustments()
	adj.EdgeDetect = true
	adj.EdgeThreshold = 0.5

	stages := b.ClipStages(adj)
	assert.Equal(t, "edgedetect=low=0.125:high=0.250", stages[3])
	assert.Equal(t, "format=rgba", stages[4])
}

func TestTextOverlaySkippedWithoutFontOrText(t *testing.T) {
	adj := types.DefaultAdjustments()
	adj.Text.Content = "caption"

	noFont := NewBuilder(fixedFont(""))
	assert.Len(t, noFont.ClipStages(adj), 4)

	nilFonts := NewBuilder(nil)
	assert.Len(t, nilFonts.ClipStages(adj), 4)

	adj.Text.Content = "   "
	withFont := NewBuilder(fixedFont("/f.ttf"))
	assert.Len(t, withFont.ClipStages(adj), 4)
}

// getToken reads one token the way ffmpeg's av_get_token does: backslash
// escapes the next byte, single quotes group literally and unescaped
// trailing whitespace is dropped.
func getToken(buf *string, term string) string {
	p := strings.TrimLeft(*buf, " \n\t\r")
	var out []byte
	end := 0
	for len(p) > 0 && !strings.ContainsRune(term, rune(p[0])) {
		c := p[0]
		p = p[1:]
		switch {
		case c == '\\' && len(p) > 0:
			out = append(out, p[0])
			p = p[1:]
			end = len(out)
		case c == '\'':
			for len(p) > 0 && p[0] != '\'' {
				out = append(out, p[0])
				p = p[1:]
			}
			if len(p) > 0 {
				p = p[1:]
				end = len(out)
			}
		default:
			out = append(out, c)
		}
	}
	for len(out) > end && strings.ContainsRune(" \n\t\r", rune(out[len(out)-1])) {
		out = out[:len(out)-1]
	}
	*buf = p
	return string(out)
}

type parsedFilter struct {
	name string
	args string
}

func skipLabels(p string) string {
	p = strings.TrimLeft(p, " ")
	for strings.HasPrefix(p, "[") {
		i := strings.IndexByte(p, ']')
		if i < 0 {
			return ""
		}
		p = strings.TrimLeft(p[i+1:], " ")
	}
	return p
}

// parseGraph splits a filter_complex into filters as the graph parser does.
func parseGraph(t *testing.T, graph string) []parsedFilter {
	t.Helper()
	var filters []parsedFilter
	p := graph
	for {
		p = skipLabels(p)
		f := parsedFilter{name: getToken(&p, "=,;[")}
		if strings.HasPrefix(p, "=") {
			p = p[1:]
			f.args = getToken(&p, "[],;")
		}
		filters = append(filters, f)
		p = skipLabels(p)
		if p == "" {
			return filters
		}
		require.Contains(t, ",;", p[:1], "unexpected text after %s: %q", f.name, p)
		p = p[1:]
	}
}

type parsedOption struct {
	key   string
	value string
}

// parseOptions splits filter arguments into key=value pairs as the option parser does.
func parseOptions(t *testing.T, args string) []parsedOption {
	t.Helper()
	var opts []parsedOption
	p := args
	for p != "" {
		eq := strings.IndexByte(p, '=')
		require.Positive(t, eq, "option without key in %q", p)
		key := p[:eq]
		p = p[eq+1:]
		opts = append(opts, parsedOption{key: key, value: getToken(&p, ":")})
		p = strings.TrimPrefix(p, ":")
	}
	return opts
}

// expandText removes the escapes drawtext strips while expanding its text.
func expandText(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func TestTextOverlayEscaping(t *testing.T) {
	const font = `/fonts/O'Neil: Sans, [v2]; 50%.ttf`
	b := NewBuilder(fixedFont(font))

	tests := []string{
		`it's 5:00`,
		`it's 5:00, [go]`,
		`a;b=c \ d`,
		`100% %{pts} done`,
		`'quoted'`,
		`back\slash at end\`,
	}
	for _, content := range tests {
		t.Run(content, func(t *testing.T) {
			adj := types.DefaultAdjustments()
			adj.Text = types.TextOverlay{Content: content, Size: 400}

			filters := parseGraph(t, b.Clip(adj))
			names := make([]string, len(filters))
			for i, f := range filters {
				names[i] = f.name
			}
			require.Equal(t, []string{"setpts", "fps", "scale", "drawtext", "format", "split", "palettegen", "paletteuse"}, names)

			opts := parseOptions(t, filters[3].args)
			keys := make([]string, len(opts))
			for i, o := range opts {
				keys[i] = o.key
			}
			require.Equal(t, []string{"fontfile", "text", "fontsize", "fontcolor", "bordercolor", "borderw", "x", "y"}, keys)

			assert.Equal(t, font, opts[0].value)
			assert.Equal(t, content, expandText(opts[1].value))
			assert.Equal(t, "216", opts[2].value)
			assert.Equal(t, "white", opts[3].value)
			assert.Equal(t, "h-text_h-24", opts[7].value)
		})
	}
}

func TestEscapeText(t *testing.T) {
	assert.Equal(t, `it\\\'s 5\\:00`, EscapeText(`it's 5:00`))
	assert.Equal(t, `a\\\\\\\\b`, EscapeText(`a\b`))
	assert.Equal(t, `\\\\%`, EscapeText(`%`))
	assert.Equal(t, `\,\;\[\]`, EscapeText(`,;[]`))
	assert.Equal(t, "two lines", EscapeText("two\nlines"))
	assert.Equal(t, "two lines", EscapeText("two\r\nlines"))
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, `C\\:/Fonts/a\\\'b\,c.ttf`, escapePath(`C:/Fonts/a'b,c.ttf`))
}

func TestReduceTextColor(t *testing.T) {
	tests := map[string]TextColor{
		"":          TextLight,
		"garbage":   TextLight,
		"#ffffff":   TextLight,
		"#FFF":      TextLight,
		"yellow":    TextLight,
		"#000000":   TextDark,
		"navy":      TextDark,
		"#0000ff":   TextDark,
		"0x202020":  TextDark,
		"#ff000080": TextDark,
	}
	for in, want := range tests {
		assert.Equal(t, want, ReduceTextColor(in), in)
	}
}

func TestHostFonts(t *testing.T) {
	dir := t.TempDir()
	font := filepath.Join(dir, "font.ttf")
	require.NoError(t, os.WriteFile(font, []byte("ttf"), 0o644))

	assert.Equal(t, font, HostFonts{Candidates: []string{filepath.Join(dir, "missing.ttf"), font}}.ResolveFont())
	assert.Equal(t, font, HostFonts{Configured: font, Candidates: []string{}}.ResolveFont())
	assert.Equal(t, "", HostFonts{Configured: dir, Candidates: []string{}}.ResolveFont())
}

func TestNumIsLocaleIndependent(t *testing.T) {
	assert.Equal(t, "0.500", num(0.5))
	assert.Equal(t, "-1.250", num(-1.25))
	assert.Equal(t, "0.000", num(0))
	assert.Equal(t, "1080.000", num(1080))
}
