package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/wellaios/crypto-chart-mcp/internal/errs"
	"github.com/wellaios/crypto-chart-mcp/internal/market"
)

// Heatmap renders the trending assets as a treemap. Tile area follows the
// clamped absolute 24h volume change, tile color the log-scaled 24h price
// change (green gains, red losses, gray for moves inside +/-1%).
func Heatmap(entries []market.TrendingEntry, style Style) ([]byte, error) {
	if len(entries) == 0 {
		return nil, errs.New(errs.RenderError, "trending list is empty; nothing to render")
	}
	theme, scale, err := resolveStyle(style)
	if err != nil {
		return nil, err
	}

	canvas := imaging.New(baseWidth, baseHeight, theme.Background)

	// Tile weights: |volume change| clamped to [1, 2000].
	values := make([]float64, len(entries))
	total := 0.0
	for i, e := range entries {
		v := math.Abs(e.VolumeChange24h)
		if v < 1 {
			v = 1
		} else if v > 2000 {
			v = 2000
		}
		values[i] = v
		total += v
	}

	colors := tileColors(entries)

	// Strip layout: entries split into rows of near-equal count, row height
	// proportional to the row's weight, tile width proportional to the
	// tile's share of its row.
	nRows := int(math.Round(math.Sqrt(float64(len(entries)) / 2)))
	if nRows < 1 {
		nRows = 1
	}
	perRow := (len(entries) + nRows - 1) / nRows

	y := 0.0
	for start := 0; start < len(entries); start += perRow {
		end := start + perRow
		if end > len(entries) {
			end = len(entries)
		}
		rowSum := 0.0
		for i := start; i < end; i++ {
			rowSum += values[i]
		}
		rowH := float64(baseHeight) * rowSum / total

		x := 0.0
		for i := start; i < end; i++ {
			w := float64(baseWidth) * values[i] / rowSum
			drawTile(canvas, int(x), int(y), int(x+w), int(y+rowH), colors[i], theme.Background)
			labelTile(canvas, int(x), int(y), int(x+w), int(y+rowH), entries[i], values[i]/total)
			x += w
		}
		y += rowH
	}

	return encodePNG(canvas, scale)
}

// tileColors mirrors the original's log-scaled intensity ramp.
func tileColors(entries []market.TrendingEntry) []color.NRGBA {
	maxPositive, maxNegative := 2.0, 2.0
	for _, e := range entries {
		if e.PriceChange24h > maxPositive {
			maxPositive = e.PriceChange24h
		}
		if -e.PriceChange24h > maxNegative {
			maxNegative = -e.PriceChange24h
		}
	}
	maxChange := math.Max(math.Log(maxPositive), math.Log(maxNegative))

	out := make([]color.NRGBA, len(entries))
	for i, e := range entries {
		var c colorful.Color
		switch {
		case e.PriceChange24h > 1:
			intensity := 0.2 + 0.6*(1-math.Log(e.PriceChange24h)/maxChange)
			c = colorful.Color{R: 0, G: intensity, B: 0}
		case e.PriceChange24h < -1:
			intensity := 0.2 + 0.6*(1-math.Log(-e.PriceChange24h)/maxChange)
			c = colorful.Color{R: intensity, G: 0, B: 0}
		default:
			c = colorful.Color{R: 0.39, G: 0.39, B: 0.39}
		}
		r, g, b := c.Clamped().RGB255()
		out[i] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}
	return out
}

// drawTile fills the tile, leaving a 1px gap toward its neighbors.
func drawTile(dst *image.NRGBA, x0, y0, x1, y1 int, c, gap color.NRGBA) {
	fillRect(dst, x0, y0, x1, y1, gap)
	fillRect(dst, x0+1, y0+1, x1-1, y1-1, c)
}

// labelTile writes the adaptive tile label: just the symbol on tiny tiles,
// symbol plus percent change on small ones, symbol plus price and percent on
// the rest.
func labelTile(dst *image.NRGBA, x0, y0, x1, y1 int, e market.TrendingEntry, fraction float64) {
	cx := (x0 + x1) / 2
	cy := (y0 + y1) / 2
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}

	if x1-x0 < stringWidth(e.Symbol)+4 || y1-y0 < 16 {
		return
	}
	if fraction < 0.01 {
		drawStringCentered(dst, cx, cy+4, e.Symbol, white)
		return
	}

	change := "--"
	if e.PriceChange24h > 0 {
		change = fmt.Sprintf("+%.2f%%", e.PriceChange24h)
	} else if e.PriceChange24h < 0 {
		change = fmt.Sprintf("%.2f%%", e.PriceChange24h)
	}

	line2 := change
	if fraction >= 0.02 {
		line2 = fmt.Sprintf("%s (%s)", fmtPrice(e.Price), change)
	}

	drawStringCentered(dst, cx, cy-2, e.Symbol, white)
	if y1-y0 >= 34 && x1-x0 >= stringWidth(line2)+4 {
		drawStringCentered(dst, cx, cy+12, line2, white)
	}
}
