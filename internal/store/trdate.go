package store

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Preset names conventionally start with a Turkish date ("16 Aralık
// Limitli"). When no explicit expiry is given, that leading date becomes
// the preset's valid_date.

var trMonths = map[string]time.Month{
	"ocak": time.January, "şubat": time.February, "subat": time.February,
	"mart": time.March, "nisan": time.April,
	"mayıs": time.May, "mayis": time.May, "haziran": time.June,
	"temmuz": time.July, "ağustos": time.August, "agustos": time.August,
	"eylül": time.September, "eylul": time.September, "ekim": time.October,
	"kasım": time.November, "kasim": time.November,
	"aralık": time.December, "aralik": time.December,
}

var trDatePrefix = regexp.MustCompile(`^\s*(\d{1,2})\.?\s+([A-Za-zÇĞİÖŞÜçğıöşü]+)\s*(\d{4})?\b`)

// ParseLeadingDate extracts a leading Turkish date from a preset name.
// The year defaults to the current one when omitted. Returns nil when
// the name carries no recognizable date.
func ParseLeadingDate(name string, now time.Time) *time.Time {
	m := trDatePrefix.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return nil
	}
	day, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	month, ok := trMonths[strings.ToLower(m[2])]
	if !ok {
		return nil
	}
	year := now.Year()
	if m[3] != "" {
		year, err = strconv.Atoi(m[3])
		if err != nil {
			return nil
		}
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (32 Ocak -> 1 Şubat); reject that.
	if t.Day() != day || t.Month() != month {
		return nil
	}
	return &t
}
