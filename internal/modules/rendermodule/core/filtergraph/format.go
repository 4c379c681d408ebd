package filtergraph

import (
	"math"
	"strconv"

	"github.com/samber/lo"
)

// epsilon below which a color-grading value is treated as neutral.
const epsilon = 1e-3

// num renders a float with exactly three decimals and a period separator,
// independent of the host locale.
func num(v float64) string {
	if v == 0 || math.IsNaN(v) {
		// avoids "-0.000"
		return "0.000"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// clampf clamps v to [lo, hi]. NaN collapses to lo.
func clampf(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return min
	}
	return lo.Clamp(v, min, max)
}

func clampi(v, min, max int) int {
	return lo.Clamp(v, min, max)
}

func roundi(v float64) int {
	return int(math.Round(v))
}

func differs(v, neutral float64) bool {
	return math.Abs(v-neutral) > epsilon
}
