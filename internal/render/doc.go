// Package render turns price series into finished chart images.
//
// Rendering is a pure transformation: (series, icon, style) in, PNG bytes
// out. Given identical inputs the output is byte-identical, which is what
// lets the artifact store key published charts by the normalized request and
// lets tests compare renders by equality. Nothing in this package touches
// the network, the clock, or global state.
//
// Two chart kinds are provided:
//   - Candles: OHLC candlesticks over a volume pane, with axis labels,
//     gridlines, an optional asset icon in the top-left corner, and a
//     watermark.
//   - Heatmap: a treemap of trending assets, tile area driven by volume
//     change and tile color by 24h price change.
//
// Styles select a named theme (light, dark) and an output size; the base
// canvas is 1200x600 and sizes scale it as a whole.
package render
