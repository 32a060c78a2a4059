package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// face is the single deterministic bitmap face used for all chart text.
var face = basicfont.Face7x13

const glyphWidth = 7 // Face7x13 advance

// fillRect fills the rectangle [x0,y0)-(x1,y1) with c, alpha-blended.
func fillRect(dst *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	draw.Draw(dst, image.Rect(x0, y0, x1, y1), image.NewUniform(c), image.Point{}, draw.Over)
}

// hline draws a 1px horizontal line.
func hline(dst *image.NRGBA, x0, x1, y int, c color.NRGBA) {
	fillRect(dst, x0, y, x1, y+1, c)
}

// vline draws a 1px vertical line.
func vline(dst *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	fillRect(dst, x, y0, x+1, y1, c)
}

// drawString renders s with its baseline at (x, y).
func drawString(dst *image.NRGBA, x, y int, s string, c color.NRGBA) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawStringCentered renders s horizontally centered on cx.
func drawStringCentered(dst *image.NRGBA, cx, y int, s string, c color.NRGBA) {
	drawString(dst, cx-stringWidth(s)/2, y, s, c)
}

// drawStringRight renders s so its right edge lands on x.
func drawStringRight(dst *image.NRGBA, x, y int, s string, c color.NRGBA) {
	drawString(dst, x-stringWidth(s), y, s, c)
}

func stringWidth(s string) int { return glyphWidth * len(s) }

// fmtPrice formats a price for axis labels and captions, matching the
// original's precision rules (4 significant digits under a dollar, cents
// above, whole dollars for large values).
func fmtPrice(v float64) string {
	switch {
	case v >= 10000:
		return fmt.Sprintf("%.0f", v)
	case v >= 1:
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%.4g", v)
	}
}
