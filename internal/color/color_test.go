package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForName_Deterministic(t *testing.T) {
	assert.Equal(t, ForName("Landscapes"), ForName("Landscapes"))
	assert.Regexp(t, `^#[0-9A-F]{6}$`, ForName("Portraits"))
}

func TestHSLToRGB_Primaries(t *testing.T) {
	r, g, b := hslToRGB(0, 1, 0.5)
	assert.Equal(t, [3]uint8{255, 0, 0}, [3]uint8{r, g, b})

	r, g, b = hslToRGB(120, 1, 0.5)
	assert.Equal(t, [3]uint8{0, 255, 0}, [3]uint8{r, g, b})

	r, g, b = hslToRGB(0, 0, 0.5)
	assert.Equal(t, [3]uint8{127, 127, 127}, [3]uint8{r, g, b})
}
