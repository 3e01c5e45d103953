package transformer

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/text/language"
)

// extraLayouts cover shapes dateparse does not take. They are tried after it.
var extraLayouts = []string{
	"Mon Jan 02 2006",
	"Mon Jan 2 2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04:05 PM",
	"2006-01-02 15:04:05 -0700",
	"2 January 2006 15:04",
	"2 Jan 2006 15:04",
	"2006-1-2",
	"02.01.2006 15:04:05",
	"02.01.2006",
}

// ParseDate reads s as a generic date. Values without a zone are read as
// UTC. Failures wrap ErrParse.
func ParseDate(s string) (time.Time, error) {
	return parseDateIn(s, "", time.UTC)
}

func parseDateIn(s, fromFormat string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrParse)
	}
	if loc == nil {
		loc = time.UTC
	}
	if fromFormat != "" {
		t, err := time.ParseInLocation(goLayout(fromFormat), s, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: date %q with format %q", ErrParse, s, fromFormat)
		}
		return t, nil
	}
	// Bare digit runs are ids, zips or phone numbers here, not unix times.
	if strings.Trim(s, "0123456789") == "" {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrParse, s)
	}
	if t, err := dateparse.ParseIn(s, loc); err == nil {
		return t, nil
	}
	for _, lay := range extraLayouts {
		if t, err := time.ParseInLocation(lay, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q", ErrParse, s)
}

// layoutTokens maps display tokens to Go reference-time fragments.
// Longer tokens come first so "MMMM" is not read as two "MM".
var layoutTokens = []struct{ tok, lay string }{
	{"YYYY", "2006"},
	{"MMMM", "January"},
	{"dddd", "Monday"},
	{"MMM", "Jan"},
	{"ddd", "Mon"},
	{"YY", "06"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"hh", "03"},
	{"mm", "04"},
	{"ss", "05"},
	{"SSS", "000"},
	{"M", "1"},
	{"D", "2"},
	{"h", "3"},
	{"A", "PM"},
	{"a", "pm"},
	{"Z", "Z07:00"},
}

// goLayout converts a token pattern such as "MM/DD/YYYY HH:mm" into a Go
// layout. Characters that are not tokens are copied through.
func goLayout(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		matched := false
		for _, t := range layoutTokens {
			if strings.HasPrefix(pattern[i:], t.tok) {
				b.WriteString(t.lay)
				i += len(t.tok)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	return b.String()
}

// localeDateLayout is the short date layout used when no target format is
// requested.
func localeDateLayout(locale string) string {
	tag := language.AmericanEnglish
	if locale != "" {
		if t, err := language.Parse(locale); err == nil {
			tag = t
		}
	}
	base, _ := tag.Base()
	region, _ := tag.Region()

	switch base.String() {
	case "en":
		switch region.String() {
		case "US", "ZZ", "PH":
			return "1/2/2006"
		case "CA":
			return "2006-01-02"
		default:
			return "02/01/2006"
		}
	case "de", "ru", "pl", "fi", "nb", "da", "cs", "tr":
		return "2.1.2006"
	case "fr", "es", "it", "pt", "el", "vi":
		return "02/01/2006"
	case "nl":
		return "2-1-2006"
	case "ja", "zh":
		return "2006/1/2"
	case "ko":
		return "2006. 1. 2."
	default:
		return "2006-01-02"
	}
}

func (e *Engine) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

func (e *Engine) formatDate(value string, c FormatConfig) string {
	loc := e.location()
	t, err := parseDateIn(value, c.FromFormat, loc)
	if err != nil {
		return value
	}
	t = t.In(loc)

	switch c.ToFormat {
	case "YYYY-MM-DD":
		return t.Format("2006-01-02")
	case "MM/DD/YYYY":
		return t.Format("01/02/2006")
	case "":
		return t.Format(localeDateLayout(c.Locale))
	default:
		return t.Format(goLayout(c.ToFormat))
	}
}

func (e *Engine) datePart(value, part string) string {
	loc := e.location()
	t, err := parseDateIn(value, "", loc)
	if err != nil {
		return ""
	}
	t = t.In(loc)

	switch part {
	case "month":
		return fmt.Sprintf("%02d", int(t.Month()))
	case "day":
		return fmt.Sprintf("%02d", t.Day())
	case "hour":
		return fmt.Sprintf("%02d", t.Hour())
	case "minute":
		return fmt.Sprintf("%02d", t.Minute())
	default:
		return fmt.Sprintf("%d", t.Year())
	}
}
