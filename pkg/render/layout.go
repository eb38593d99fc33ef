package render

import (
	"html"
	"strings"
)

// Collage directions
const (
	DirectionHorizontal = "horizontal"
	DirectionVertical   = "vertical"
)

// BuildDocument produces the HTML page the browser screenshots. Images keep
// their natural size and sit flush against each other in a flex container.
// The container uses max-content sizing so the document extent matches the
// assembled collage and a full-page capture includes every image.
func BuildDocument(images []string, direction string) string {
	flexDirection := "column"
	if direction == DirectionHorizontal {
		flexDirection = "row"
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><style>`)
	b.WriteString(`html,body{margin:0;padding:0;background:#fff;}`)
	b.WriteString(`#collage{display:flex;flex-direction:` + flexDirection + `;align-items:flex-start;width:max-content;}`)
	b.WriteString(`#collage img{display:block;}`)
	b.WriteString(`</style></head><body><div id="collage">`)
	for _, src := range images {
		b.WriteString(`<img src="` + html.EscapeString(src) + `">`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}
