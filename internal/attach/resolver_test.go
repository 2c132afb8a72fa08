package attach

import (
	"errors"
	"testing"
)

var testPresets = map[string]Preset{
	"haftalik": {Category: "Genel", URL: "https://prnt.sc/abc123"},
	"etkinlik": {Category: "Etkinlik", URL: "https://prnt.sc/def456"},
	"bozuk":    {Category: "Genel", URL: "  "},
}

func TestResolveNotRequiredIgnoresSelection(t *testing.T) {
	t.Parallel()
	// When the row needs no attachment the selection is ignored entirely,
	// even an invalid one.
	sels := []Selection{
		{},
		{Kind: SelectionManual, ManualURL: "https://example.com/not-supported"},
		{Kind: SelectionPreset, Preset: "does-not-exist"},
	}
	for _, sel := range sels {
		url, err := Resolve(false, sel, "Genel", testPresets)
		if err != nil || url != "" {
			t.Fatalf("Resolve(false, %+v) = %q, %v; want empty, nil", sel, url, err)
		}
	}
}

func TestResolveUnset(t *testing.T) {
	t.Parallel()
	_, err := Resolve(true, Selection{}, "Genel", testPresets)
	if !errors.Is(err, ErrNoAttachmentChosen) {
		t.Fatalf("want ErrNoAttachmentChosen, got %v", err)
	}
}

func TestResolveManual(t *testing.T) {
	t.Parallel()
	url, err := Resolve(true, Selection{Kind: SelectionManual, ManualURL: " https://prnt.sc/xyz "}, "Genel", testPresets)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if url != "https://prnt.sc/xyz" {
		t.Fatalf("url = %q", url)
	}
}

func TestResolveManualUnsupportedHost(t *testing.T) {
	t.Parallel()
	_, err := Resolve(true, Selection{Kind: SelectionManual, ManualURL: "https://imgur.com/a/xyz"}, "Genel", testPresets)
	var ue *UnsupportedLinkError
	if !errors.As(err, &ue) {
		t.Fatalf("want UnsupportedLinkError, got %v", err)
	}
}

func TestResolvePreset(t *testing.T) {
	t.Parallel()
	url, err := Resolve(true, Selection{Kind: SelectionPreset, Preset: "haftalik"}, "Genel", testPresets)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if url != "https://prnt.sc/abc123" {
		t.Fatalf("url = %q", url)
	}
}

func TestResolvePresetErrors(t *testing.T) {
	t.Parallel()

	_, err := Resolve(true, Selection{Kind: SelectionPreset, Preset: "yok"}, "Genel", testPresets)
	var unknown *UnknownPresetError
	if !errors.As(err, &unknown) {
		t.Fatalf("want UnknownPresetError, got %v", err)
	}

	_, err = Resolve(true, Selection{Kind: SelectionPreset, Preset: "etkinlik"}, "Genel", testPresets)
	var mismatch *PresetCategoryMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("want PresetCategoryMismatchError, got %v", err)
	}
	if mismatch.PresetCategory != "Etkinlik" || mismatch.RowCategory != "Genel" {
		t.Fatalf("unexpected detail: %+v", mismatch)
	}

	_, err = Resolve(true, Selection{Kind: SelectionPreset, Preset: "bozuk"}, "Genel", testPresets)
	var missing *PresetURLMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("want PresetURLMissingError, got %v", err)
	}
}

func TestIsScreenshotURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want bool
	}{
		{"https://prnt.sc/abc", true},
		{"http://prntscr.com/abc", true},
		{"https://image.prntscr.com/image/abc.png", true},
		{"HTTPS://PRNT.SC/ABC", true},
		{"https://imgur.com/abc", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := IsScreenshotURL(tt.url); got != tt.want {
			t.Fatalf("IsScreenshotURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestFilename(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		category string
		want     string
	}{
		{name: "plain", category: "Genel", want: "Genel.png"},
		{name: "unsafe chars", category: `a/b\c:d`, want: "a_b_c_d.png"},
		{name: "spaces collapsed", category: "haftalık   duyuru", want: "haftalık duyuru.png"},
		{name: "empty falls back", category: "   ", want: "image.png"},
		{name: "only unsafe falls back to underscores", category: "::", want: "__.png"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Filename(tt.category); got != tt.want {
				t.Fatalf("Filename(%q) = %q, want %q", tt.category, got, tt.want)
			}
		})
	}
}
