package filtergraph

import "fmt"

// Labels used by the palette workflow. OutputLabel is what the command
// assembler maps into the output file.
const (
	OutputLabel  = "out"
	paletteLabel = "pal"
)

// MinColors and MaxColors bound the palettegen color count.
const (
	MinColors = 2
	MaxColors = 256
)

// PaletteWorkflow splits the processed stream, builds a palette from full frame
// statistics on one copy and applies it with error diffusion to the other.
func PaletteWorkflow(maxColors int) string {
	return fmt.Sprintf(
		"split[pa][pb];[pa]palettegen=max_colors=%d:stats_mode=full[%s];[pb][%s]paletteuse=dither=floyd_steinberg[%s]",
		clampi(maxColors, MinColors, MaxColors), paletteLabel, paletteLabel, OutputLabel,
	)
}
