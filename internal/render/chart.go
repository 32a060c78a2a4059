package render

import (
	"bytes"
	"image"
	"image/png"
	"math"

	"github.com/anthonynsimon/bild/transform"
	"github.com/disintegration/imaging"

	"github.com/wellaios/crypto-chart-mcp/internal/errs"
	"github.com/wellaios/crypto-chart-mcp/internal/market"
)

// Style carries the caller-selectable chart parameters.
type Style struct {
	Theme       string // "light" or "dark"
	Size        string // "small", "medium" or "large"
	OverlayIcon bool
	Title       string
	Watermark   string
}

const (
	baseWidth  = 1200
	baseHeight = 600

	marginLeft   = 70
	marginRight  = 30
	marginTop    = 50
	marginBottom = 35
	paneGap      = 20
)

// sizeScale maps the size style to a whole-canvas scale factor.
var sizeScale = map[string]float64{
	"small":  0.5,
	"medium": 1.0,
	"large":  1.5,
}

// Candles renders a candlestick-plus-volume chart for the series.
//
// The price pane takes the upper ~two thirds of the plot area and the volume
// pane the rest, mirroring the original's 70/30 subplot split. An empty
// series or an unrecognized theme/size fails with RenderError; a nil icon is
// simply not drawn (the icon store guarantees a placeholder upstream).
func Candles(series *market.Series, icon image.Image, style Style) ([]byte, error) {
	if series == nil || len(series.Candles) == 0 {
		return nil, errs.New(errs.RenderError, "price series is empty; nothing to render")
	}
	theme, scale, err := resolveStyle(style)
	if err != nil {
		return nil, err
	}

	canvas := imaging.New(baseWidth, baseHeight, theme.Background)

	plotW := baseWidth - marginLeft - marginRight
	plotH := baseHeight - marginTop - marginBottom
	priceH := plotH * 2 / 3
	priceTop := marginTop
	priceBottom := priceTop + priceH
	volTop := priceBottom + paneGap
	volBottom := marginTop + plotH

	candles := series.Candles
	n := len(candles)

	// Price scale across both wicks, padded 4% so extremes clear the frame.
	minLow, maxHigh := candles[0].Low, candles[0].High
	maxVol := candles[0].Volume
	for _, c := range candles {
		minLow = math.Min(minLow, c.Low)
		maxHigh = math.Max(maxHigh, c.High)
		maxVol = math.Max(maxVol, c.Volume)
	}
	pad := (maxHigh - minLow) * 0.04
	if pad == 0 {
		pad = math.Max(maxHigh*0.04, 1e-9)
	}
	minLow -= pad
	maxHigh += pad
	if maxVol == 0 {
		maxVol = 1
	}

	priceY := func(p float64) int {
		frac := (p - minLow) / (maxHigh - minLow)
		return priceBottom - int(frac*float64(priceH)+0.5)
	}
	volY := func(v float64) int {
		frac := v / maxVol
		return volBottom - int(frac*float64(volBottom-volTop)+0.5)
	}
	slotX := func(i int) int {
		return marginLeft + (2*i+1)*plotW/(2*n)
	}

	// Horizontal price gridlines with axis labels.
	const priceSteps = 5
	for s := 0; s <= priceSteps; s++ {
		p := minLow + (maxHigh-minLow)*float64(s)/priceSteps
		y := priceY(p)
		hline(canvas, marginLeft, marginLeft+plotW, y, theme.Grid)
		drawStringRight(canvas, marginLeft-6, y+4, fmtPrice(p), theme.AxisText)
	}

	// Vertical time gridlines shared by both panes.
	labelEvery := n / 8
	if labelEvery < 1 {
		labelEvery = 1
	}
	timeFormat := "Jan 02"
	if series.Interval == market.IntervalHourly {
		timeFormat = "02 15:04"
	}
	for i := 0; i < n; i += labelEvery {
		x := slotX(i)
		vline(canvas, x, priceTop, volBottom, theme.Grid)
		drawStringCentered(canvas, x, volBottom+14, candles[i].Timestamp.Format(timeFormat), theme.AxisText)
	}

	// Candles and volume bars.
	bodyW := plotW / n * 6 / 10
	if bodyW < 1 {
		bodyW = 1
	}
	for i, c := range candles {
		x := slotX(i)
		col := theme.Up
		if c.Close < c.Open {
			col = theme.Down
		}

		vline(canvas, x, priceY(c.High), priceY(c.Low), col)
		top, bot := priceY(math.Max(c.Open, c.Close)), priceY(math.Min(c.Open, c.Close))
		if bot == top {
			bot = top + 1
		}
		fillRect(canvas, x-bodyW/2, top, x+bodyW/2+1, bot, col)

		fillRect(canvas, x-bodyW/2, volY(c.Volume), x+bodyW/2+1, volBottom, theme.Volume)
	}

	// Frame the panes after the bars so edges stay crisp.
	hline(canvas, marginLeft, marginLeft+plotW, priceBottom, theme.Grid)
	hline(canvas, marginLeft, marginLeft+plotW, volBottom, theme.Grid)

	if style.Title != "" {
		drawStringCentered(canvas, baseWidth/2, marginTop-24, style.Title, theme.Title)
	}
	if style.Watermark != "" {
		drawStringRight(canvas, marginLeft+plotW-4, volTop-6, style.Watermark, theme.Watermark)
	}
	if style.OverlayIcon && icon != nil {
		badge := imaging.Resize(icon, 36, 36, imaging.Lanczos)
		canvas = imaging.Overlay(canvas, badge, image.Pt(16, 8), 1.0)
	}

	return encodePNG(canvas, scale)
}

// resolveStyle validates the theme and size selections.
func resolveStyle(style Style) (Theme, float64, error) {
	theme, ok := ThemeByName(style.Theme)
	if !ok {
		return Theme{}, 0, errs.Newf(errs.RenderError, "unknown theme %q", style.Theme)
	}
	scale, ok := sizeScale[style.Size]
	if !ok {
		return Theme{}, 0, errs.Newf(errs.RenderError, "unknown size %q", style.Size)
	}
	return theme, scale, nil
}

// encodePNG applies the size scale and encodes the canvas.
func encodePNG(canvas *image.NRGBA, scale float64) ([]byte, error) {
	var out image.Image = canvas
	if scale != 1.0 {
		w := int(float64(canvas.Bounds().Dx()) * scale)
		h := int(float64(canvas.Bounds().Dy()) * scale)
		out = transform.Resize(canvas, w, h, transform.Linear)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, errs.Wrap(errs.Internal, "failed to encode chart image", err)
	}
	return buf.Bytes(), nil
}
