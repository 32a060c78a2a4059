package render

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Theme is the color palette of a rendered chart.
type Theme struct {
	Name       string
	Background color.NRGBA
	Grid       color.NRGBA
	AxisText   color.NRGBA
	Title      color.NRGBA
	Up         color.NRGBA
	Down       color.NRGBA
	Volume     color.NRGBA
	Watermark  color.NRGBA
	Neutral    color.NRGBA
}

// themeByName holds the built-in palettes. The light theme mirrors the
// plotly_white look of the original charts.
var themeByName = map[string]Theme{
	"light": {
		Name:       "light",
		Background: hexColor("#ffffff", 255),
		Grid:       hexColor("#646464", 102),
		AxisText:   hexColor("#808080", 255),
		Title:      hexColor("#2a2a2a", 255),
		Up:         hexColor("#26a269", 255),
		Down:       hexColor("#c01c28", 255),
		Volume:     hexColor("#0000ff", 128),
		Watermark:  hexColor("#646464", 77),
		Neutral:    hexColor("#646464", 255),
	},
	"dark": {
		Name:       "dark",
		Background: hexColor("#14161c", 255),
		Grid:       hexColor("#9a9a9a", 64),
		AxisText:   hexColor("#b0b0b0", 255),
		Title:      hexColor("#ececec", 255),
		Up:         hexColor("#33d17a", 255),
		Down:       hexColor("#f66151", 255),
		Volume:     hexColor("#4d7cff", 140),
		Watermark:  hexColor("#c8c8c8", 60),
		Neutral:    hexColor("#9a9a9a", 255),
	},
}

// ThemeByName looks up a palette by its configured name.
func ThemeByName(name string) (Theme, bool) {
	t, ok := themeByName[name]
	return t, ok
}

// hexColor parses a hex triplet and attaches an alpha.
func hexColor(hex string, alpha uint8) color.NRGBA {
	c, err := colorful.Hex(hex)
	if err != nil {
		// Palettes are compile-time constants; a typo should fail loudly.
		panic("bad theme color " + hex)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: alpha}
}
