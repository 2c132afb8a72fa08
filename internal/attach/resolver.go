// Package attach resolves a row's attachment requirement to a concrete
// screenshot URL and fetches the image bytes.
//
// Resolution is pure and separately testable; fetching is the only
// network-bound part.
package attach

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// SelectionKind is the explicit tri-state of the operator's attachment
// choice. The zero value means "nothing chosen".
type SelectionKind int

const (
	SelectionUnset SelectionKind = iota
	SelectionManual
	SelectionPreset
)

// Selection is the operator's attachment choice for one row.
type Selection struct {
	Kind      SelectionKind
	Preset    string // preset name, Kind == SelectionPreset
	ManualURL string // verbatim link, Kind == SelectionManual
}

// Preset is the slice of the preset catalog the resolver needs.
type Preset struct {
	Category string
	URL      string
}

// ErrNoAttachmentChosen: the row requires an attachment but the operator
// picked neither a preset nor a manual link.
var ErrNoAttachmentChosen = errors.New("no attachment chosen")

type UnknownPresetError struct{ Name string }

func (e *UnknownPresetError) Error() string {
	return fmt.Sprintf("attachment preset %q does not exist", e.Name)
}

type PresetCategoryMismatchError struct {
	Preset         string
	PresetCategory string
	RowCategory    string
}

func (e *PresetCategoryMismatchError) Error() string {
	return fmt.Sprintf("preset %q: category %q does not match row category %q",
		e.Preset, e.PresetCategory, e.RowCategory)
}

type PresetURLMissingError struct{ Preset string }

func (e *PresetURLMissingError) Error() string {
	return fmt.Sprintf("preset %q has no URL", e.Preset)
}

type UnsupportedLinkError struct{ URL string }

func (e *UnsupportedLinkError) Error() string {
	return fmt.Sprintf("link %q is not a supported screenshot URL", e.URL)
}

// Resolve turns a row's attachment requirement into a concrete URL.
// When required is false the result is always empty: other fields are
// ignored entirely and no validation (or fetching) happens.
func Resolve(required bool, sel Selection, category string, presets map[string]Preset) (string, error) {
	if !required {
		return "", nil
	}

	var url string
	switch sel.Kind {
	case SelectionManual:
		url = strings.TrimSpace(sel.ManualURL)
		if url == "" {
			return "", ErrNoAttachmentChosen
		}
	case SelectionPreset:
		p, ok := presets[sel.Preset]
		if !ok {
			return "", &UnknownPresetError{Name: sel.Preset}
		}
		if p.Category != category {
			return "", &PresetCategoryMismatchError{
				Preset:         sel.Preset,
				PresetCategory: p.Category,
				RowCategory:    category,
			}
		}
		url = strings.TrimSpace(p.URL)
		if url == "" {
			return "", &PresetURLMissingError{Preset: sel.Preset}
		}
	default:
		return "", ErrNoAttachmentChosen
	}

	if !IsScreenshotURL(url) {
		return "", &UnsupportedLinkError{URL: url}
	}
	return url, nil
}

// Hosts accepted for attachment links (lightshot share pages and its
// image CDN).
var screenshotHosts = []string{"prnt.sc/", "prntscr.com", "image.prntscr.com"}

// IsScreenshotURL reports whether the link has a supported shape.
func IsScreenshotURL(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	if u == "" {
		return false
	}
	for _, h := range screenshotHosts {
		if strings.Contains(u, h) {
			return true
		}
	}
	return false
}

var unsafeFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]`)
var collapseSpaces = regexp.MustCompile(`\s+`)

// Filename derives the upload filename from the row category.
func Filename(category string) string {
	c := strings.TrimSpace(category)
	if c == "" {
		c = "image"
	}
	c = unsafeFilenameChars.ReplaceAllString(c, "_")
	c = strings.TrimSpace(collapseSpaces.ReplaceAllString(c, " "))
	if c == "" {
		c = "image"
	}
	if len(c) > 60 {
		c = c[:60]
	}
	return c + ".png"
}
