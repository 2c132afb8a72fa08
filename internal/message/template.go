// Package message resolves template text: placeholder extraction and
// category-checked substitution. Everything here is pure; no storage or
// network access.
package message

import (
	"regexp"
	"strings"
)

// Placeholders look like {{Name}}. Nested braces are not supported and
// there is no escaping mechanism.
var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Variable is the slice of the variable catalog the resolver needs.
type Variable struct {
	Category string
	Options  []string
}

// Catalog maps variable name to its definition.
type Catalog map[string]Variable

// ExtractPlaceholders returns the placeholder names found in text:
// trimmed, empty names dropped, duplicates collapsed with first-seen
// order preserved.
func ExtractPlaceholders(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Resolve validates every placeholder in text against the catalog and the
// row's category, then substitutes the operator selections in a single
// pass. Substituted values are never re-scanned for placeholders.
//
// A selection is missing when it is absent or empty; the HTTP layer maps
// any legacy "unselected" sentinel to empty before calling this.
func Resolve(text, category string, selections map[string]string, vars Catalog) (string, error) {
	for _, name := range ExtractPlaceholders(text) {
		def, ok := vars[name]
		if !ok {
			return "", &CategoryMismatchError{Placeholder: name, WantCategory: category}
		}
		if def.Category != category {
			return "", &CategoryMismatchError{
				Placeholder:  name,
				WantCategory: category,
				GotCategory:  def.Category,
			}
		}
		if strings.TrimSpace(selections[name]) == "" {
			return "", &MissingSelectionError{Placeholder: name}
		}
	}

	resolved := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.TrimSpace(m[2 : len(m)-2])
		if v, ok := selections[name]; ok {
			return v
		}
		return m
	})
	return resolved, nil
}
