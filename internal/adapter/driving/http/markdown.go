package httphandler

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Repository descriptions are user-authored markdown. They are rendered with
// GFM and then passed through a UGC sanitizer before reaching clients.
var (
	descriptionMarkdown  = goldmark.New(goldmark.WithExtensions(extension.GFM))
	descriptionSanitizer = bluemonday.UGCPolicy()
)

// renderDescription converts a repository description to sanitized HTML.
// Empty input yields "".
func renderDescription(src string) string {
	if src == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := descriptionMarkdown.Convert([]byte(src), &buf); err != nil {
		return descriptionSanitizer.Sanitize(src)
	}
	return descriptionSanitizer.Sanitize(buf.String())
}
