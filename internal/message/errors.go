package message

import "fmt"

// CategoryMismatchError: the placeholder's variable is unknown or scoped
// to a different category than the row. A hard validation error, never a
// silent fallback.
type CategoryMismatchError struct {
	Placeholder  string
	WantCategory string
	GotCategory  string // empty when the variable does not exist at all
}

func (e *CategoryMismatchError) Error() string {
	if e.GotCategory == "" {
		return fmt.Sprintf("placeholder %q: no variable defined for category %q", e.Placeholder, e.WantCategory)
	}
	return fmt.Sprintf("placeholder %q: variable category %q does not match row category %q",
		e.Placeholder, e.GotCategory, e.WantCategory)
}

// MissingSelectionError: the operator has not picked a value for the
// placeholder.
type MissingSelectionError struct {
	Placeholder string
}

func (e *MissingSelectionError) Error() string {
	return fmt.Sprintf("placeholder %q: no value selected", e.Placeholder)
}
