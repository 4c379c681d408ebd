// Package filtergraph synthesizes ffmpeg filter_complex text for single-clip
// renders and two-input blends. Every stage is emitted in a fixed order and only
// when its parameter is away from its neutral value.
package filtergraph

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// Builder produces filter graphs. It is safe for concurrent use.
type Builder struct {
	fonts FontResolver
}

// NewBuilder creates a builder. A nil resolver disables text overlays.
func NewBuilder(fonts FontResolver) *Builder {
	return &Builder{fonts: fonts}
}

// Clip returns the full filter_complex for a single clip, reading input 0 and
// ending in the [out] label.
func (b *Builder) Clip(adj types.Adjustments) string {
	return "[0:v]" + strings.Join(b.ClipStages(adj), ",") + "," + PaletteWorkflow(adj.MaxColors)
}

// ClipStages returns the ordered processing stages preceding the palette workflow.
func (b *Builder) ClipStages(adj types.Adjustments) []string {
	c := &chain{}

	c.add("setpts=PTS-STARTPTS")
	c.add(fmt.Sprintf("fps=%d", clampi(adj.FrameRate, 1, 60)))
	c.add(scaleStage(adj.ResolutionFraction))

	brightness := clampf(adj.Brightness, -1, 1)
	contrast := clampf(adj.Contrast, 0, 3)
	saturation := clampf(adj.Saturation, 0, 3)
	c.addIf(differs(brightness, 0) || differs(contrast, 1) || differs(saturation, 1), func() string {
		return fmt.Sprintf("eq=brightness=%s:contrast=%s:saturation=%s", num(brightness), num(contrast), num(saturation))
	})

	hue := clampf(adj.Hue, -180, 180)
	c.addIf(differs(hue, 0), func() string {
		return "hue=h=" + num(hue)
	})

	sepia := clampf(adj.Sepia, 0, 1)
	c.addIf(sepia > 0, func() string {
		return sepiaStage(sepia)
	})

	red := clampf(adj.RedBalance, 0, 2)
	green := clampf(adj.GreenBalance, 0, 2)
	blue := clampf(adj.BlueBalance, 0, 2)
	c.addIf(differs(red, 1) || differs(green, 1) || differs(blue, 1), func() string {
		return fmt.Sprintf("colorchannelmixer=rr=%s:gg=%s:bb=%s", num(red), num(green), num(blue))
	})

	speed := clampf(adj.HueCycleSpeed, 0, 3)
	c.addIf(speed > 0, func() string {
		return "hue=h=t*" + num(speed*360)
	})

	trail := clampf(adj.MotionTrail, 0, 1)
	c.addIf(trail > 0, func() string {
		frames := clampi(roundi(2+trail*8), 2, 10)
		weights := lo.Times(frames, func(int) string { return "1" })
		return fmt.Sprintf("tmix=frames=%d:weights='%s'", frames, strings.Join(weights, " "))
	})

	sharpen := clampf(adj.Sharpen, 0, 1)
	c.addIf(sharpen > 0, func() string {
		return "unsharp=lx=5:ly=5:la=" + num(sharpen*1.5)
	})

	pixelate := clampf(adj.Pixelate, 0, 50)
	if pixelate > 0 {
		block := clampi(roundi(2+pixelate), 2, 52)
		// pixelize keeps the frame size, including frames smaller than one block.
		c.add(fmt.Sprintf("pixelize=width=%d:height=%d", block, block))
	}

	if adj.EdgeDetect {
		low, high := EdgeThresholds(adj.EdgeThreshold)
		c.add(fmt.Sprintf("edgedetect=low=%s:high=%s", num(low), num(high)))
		boost := clampf(adj.EdgeBoost, 0, 2)
		c.addIf(boost > 0, func() string {
			return fmt.Sprintf("eq=contrast=%s:brightness=%s", num(1+boost), num(boost*0.1))
		})
	}

	c.addIf(adj.Negate, func() string { return "negate" })
	c.addIf(adj.FlipHorizontal, func() string { return "hflip" })
	c.addIf(adj.FlipVertical, func() string { return "vflip" })

	if strings.TrimSpace(adj.Text.Content) != "" && b.fonts != nil {
		if font := b.fonts.ResolveFont(); font != "" {
			c.add(textStage(font, adj.Text))
		}
	}

	c.add("format=rgba")
	return c.stages
}

// scaleStage scales both axes by r and rounds each down to an even pixel count.
func scaleStage(fraction float64) string {
	r := num(clampf(fraction, 0.05, 1))
	return fmt.Sprintf("scale=trunc(iw*%s/2)*2:trunc(ih*%s/2)*2:flags=lanczos", r, r)
}

var (
	identity    = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	sepiaMatrix = [9]float64{
		0.393, 0.769, 0.189,
		0.349, 0.686, 0.168,
		0.272, 0.534, 0.131,
	}
	mixerKeys = [9]string{"rr", "rg", "rb", "gr", "gg", "gb", "br", "bg", "bb"}
)

func sepiaStage(amount float64) string {
	parts := make([]string, 9)
	for i := range parts {
		v := identity[i]*(1-amount) + sepiaMatrix[i]*amount
		parts[i] = mixerKeys[i] + "=" + num(v)
	}
	return "colorchannelmixer=" + strings.Join(parts, ":")
}

// EdgeThresholds inverts the 0..1 user threshold into edgedetect's low and high
// thresholds. A higher user value keeps more edges.
func EdgeThresholds(threshold float64) (float64, float64) {
	t := clampf(threshold, 0, 1)
	low := clampf(0.2-t*0.15, 0.05, 0.2)
	high := clampf(0.4-t*0.3, low+0.05, 0.4)
	return low, high
}

func textStage(font string, text types.TextOverlay) string {
	fill, border := ReduceTextColor(text.Color).colors()
	return fmt.Sprintf(
		"drawtext=fontfile=%s:text=%s:fontsize=%d:fontcolor=%s:bordercolor=%s:borderw=3:x=(w-text_w)/2:y=h-text_h-24",
		escapePath(font), EscapeText(strings.TrimSpace(text.Content)), clampi(text.Size, MinTextSize, MaxTextSize), fill, border,
	)
}
