// Package assets embeds the default stamp assets: the text font and the
// checkmark glyph.
package assets

import "embed"

// FS holds fonts/Roboto-Regular.ttf (Apache License 2.0) and checkmark.png.
//
//go:embed checkmark.png fonts/Roboto-Regular.ttf
var FS embed.FS

const (
	FontPath      = "fonts/Roboto-Regular.ttf"
	FontName      = "Roboto-Regular"
	CheckmarkPath = "checkmark.png"
)
