package store

import (
	"context"
	"testing"
	"time"
)

func TestParseLeadingDate(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   string
		want string // "" means nil
	}{
		{name: "day month", in: "16 Aralık Limitli", want: "2026-12-16"},
		{name: "with year", in: "5 Ocak 2027 Turnuva", want: "2027-01-05"},
		{name: "dotted day", in: "3. Mart etkinliği", want: "2026-03-03"},
		{name: "ascii month spelling", in: "12 aralik x", want: "2026-12-12"},
		{name: "leading spaces", in: "  1 Ekim", want: "2026-10-01"},
		{name: "no date", in: "haftalık duyuru", want: ""},
		{name: "unknown month", in: "16 Brumaire x", want: ""},
		{name: "impossible day", in: "32 Ocak x", want: ""},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLeadingDate(tt.in, now)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("ParseLeadingDate(%q) = %v, want nil", tt.in, got)
				}
				return
			}
			if got == nil || got.Format("2006-01-02") != tt.want {
				t.Fatalf("ParseLeadingDate(%q) = %v, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestUpsertAttachmentInfersExpiryFromName(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	// A dated name gets its expiry inferred.
	if err := st.UpsertAttachment(ctx, Attachment{Name: "16 Aralık 2099 Limitli", URL: "https://prnt.sc/a"}); err != nil {
		t.Fatal(err)
	}
	atts, err := st.Attachments(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(atts) != 1 || atts[0].ValidDate == nil {
		t.Fatalf("expiry not inferred: %+v", atts)
	}
	if atts[0].ValidDate.Format("2006-01-02") != "2099-12-16" {
		t.Fatalf("inferred date = %s", atts[0].ValidDate.Format("2006-01-02"))
	}

	// An explicit expiry wins over the name.
	explicit := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := st.UpsertAttachment(ctx, Attachment{Name: "16 Aralık 2099 Limitli", URL: "https://prnt.sc/a", ValidDate: &explicit}); err != nil {
		t.Fatal(err)
	}
	atts, _ = st.Attachments(ctx, true)
	if atts[0].ValidDate.Format("2006-01-02") != "2099-01-01" {
		t.Fatalf("explicit date lost: %s", atts[0].ValidDate.Format("2006-01-02"))
	}

	// Undated names stay open-ended.
	if err := st.UpsertAttachment(ctx, Attachment{Name: "haftalık", URL: "https://prnt.sc/b"}); err != nil {
		t.Fatal(err)
	}
	atts, _ = st.Attachments(ctx, true)
	for _, a := range atts {
		if a.Name == "haftalık" && a.ValidDate != nil {
			t.Fatalf("undated name got an expiry: %+v", a)
		}
	}
}
