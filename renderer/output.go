package renderer

import (
	"bytes"
	"fmt"
	"html"

	"github.com/charmbracelet/glamour"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Terminal renders markdown for a terminal of the given width. Without a
// terminal style, "notty" keeps the output plain.
func Terminal(md string, width int, style string) (string, error) {
	if style == "" {
		style = "notty"
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(width))
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

var gfm = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML renders markdown as a standalone page titled title.
func HTML(title, md string) ([]byte, error) {
	var body bytes.Buffer
	if err := gfm.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("cannot render %s: %w", title, err)
	}
	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title>", html.EscapeString(title))
	page.WriteString("<style>body{font-family:sans-serif;margin:2em}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:2px 8px}</style>")
	page.WriteString("</head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}
