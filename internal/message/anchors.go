package message

import "regexp"

var (
	anchorHTML = regexp.MustCompile(`(?is)<a\s+[^>]*href=['"][^'"]+['"][^>]*>(.*?)</a>`)
	anchorMD   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// StripAnchors reduces HTML and Markdown links to their label text.
// Announcement channels render bare labels more cleanly than pasted
// anchor markup.
func StripAnchors(text string) string {
	if text == "" {
		return text
	}
	text = anchorHTML.ReplaceAllString(text, "$1")
	text = anchorMD.ReplaceAllString(text, "$1")
	return text
}
