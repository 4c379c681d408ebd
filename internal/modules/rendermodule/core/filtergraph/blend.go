package filtergraph

import (
	"fmt"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// maximum number of frames the loop filter buffers
const loopBufferFrames = 32767

// BlendOptions parameterize a two-input composite.
type BlendOptions struct {
	Mode      types.BlendMode
	Opacity   float64
	MaxColors int
	Plan      Plan
}

// Blend returns the filter_complex compositing input 0 over input 1 after
// applying the reconciliation plan, ending in the [out] label.
func (b *Builder) Blend(opts BlendOptions) string {
	a := inputChain(InputA, opts.Plan)
	bb := inputChain(InputB, opts.Plan)

	return fmt.Sprintf("[0:v]%s[a];[1:v]%s[b];[a][b]blend=all_mode=%s:all_opacity=%s,format=rgba,%s",
		a, bb,
		opts.Mode.Keyword(),
		num(clampf(opts.Opacity, 0, 1)),
		PaletteWorkflow(opts.MaxColors),
	)
}

func inputChain(in Input, p Plan) string {
	c := &chain{}

	if p.LoopInput != InputNone && p.TrimSec > 0 {
		c.addIf(p.LoopInput == in && p.LoopCount > 1, func() string {
			return fmt.Sprintf("loop=loop=%d:size=%d:start=0", p.LoopCount-1, loopBufferFrames)
		})
		c.add("trim=duration="+num(p.TrimSec), "setpts=PTS-STARTPTS")
	}

	c.addIf(p.ScaleInput == in, func() string {
		return fmt.Sprintf("scale=%d:%d:flags=lanczos", p.Width, p.Height)
	})

	// blend needs both sides in one planar format with alpha
	c.add("format=gbrap")
	return c.String()
}
