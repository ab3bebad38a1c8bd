package lightshow

import (
	"math"

	"github.com/crazy3lf/colorconv"

	"github.com/Drewsername/localweb/internal/utils"
)

// HSVToRGB converts h in [0,1) (wrapping), s and v in [0,1] to 8-bit RGB
// channels. Zero saturation yields an achromatic triple.
func HSVToRGB(h, s, v float64) (uint8, uint8, uint8) {
	h = utils.WrapUnit(h)
	s = utils.Clamp(s, 0.0, 1.0)
	v = utils.Clamp(v, 0.0, 1.0)

	r, g, b, err := colorconv.HSVToRGB(h*360, s, v)
	if err != nil {
		val := uint8(math.Round(v * 255))
		return val, val, val
	}

	return r, g, b
}
