package transformer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Phone target formats.
const (
	PhoneClean  = "clean"
	PhoneParens = "(XXX) XXX-XXXX"
	PhoneDashed = "XXX-XXX-XXXX"
)

// Number target formats. Anything else renders with locale grouping.
const (
	NumberCurrency = "currency"
	NumberPercent  = "percent"
)

func (e *Engine) format(value string, c FormatConfig) string {
	if value == "" {
		return ""
	}
	switch c.Operation {
	case OpUppercase:
		return strings.ToUpper(value)
	case OpLowercase:
		return strings.ToLower(value)
	case OpCapitalize:
		return capitalize(value)
	case OpPhone:
		return formatPhone(value, c.ToFormat)
	case OpDate:
		return e.formatDate(value, c)
	case OpNumber:
		return formatNumber(value, c)
	case OpCustom:
		return applyPattern(value, c.CustomPattern)
	}
	return value
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return strings.ToLower(s)
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func formatPhone(value, toFormat string) string {
	d := Digits(value)
	if toFormat == "" || toFormat == PhoneClean || len(d) != 10 {
		return d
	}
	switch toFormat {
	case PhoneParens:
		return "(" + d[:3] + ") " + d[3:6] + "-" + d[6:]
	case PhoneDashed:
		return d[:3] + "-" + d[3:6] + "-" + d[6:]
	}
	return d
}

var leadingFloat = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)

// parseLeadingFloat reads the longest numeric prefix of s, so "12kg" is 12
// and "abc" fails.
func parseLeadingFloat(s string) (float64, bool) {
	m := leadingFloat.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func localeTag(locale string) language.Tag {
	if locale == "" {
		return language.AmericanEnglish
	}
	t, err := language.Parse(locale)
	if err != nil {
		return language.AmericanEnglish
	}
	return t
}

var currencySymbols = map[currency.Unit]string{
	currency.USD: "$",
	currency.EUR: "€",
	currency.GBP: "£",
	currency.JPY: "¥",
	currency.CNY: "¥",
	currency.INR: "₹",
	currency.CAD: "CA$",
	currency.AUD: "A$",
	currency.CHF: "CHF ",
}

// suffixCurrency lists languages whose locales write the symbol after the
// amount ("1.234,50 $"). Portuguese does so only in Portugal.
var suffixCurrency = map[string]bool{
	"de": true, "fr": true, "es": true, "it": true, "ru": true, "pl": true,
	"cs": true, "sk": true, "sv": true, "fi": true, "nb": true, "da": true,
	"hu": true, "ro": true, "uk": true, "lt": true, "lv": true, "et": true,
}

func symbolAfter(tag language.Tag) bool {
	base, _ := tag.Base()
	if base.String() == "pt" {
		region, _ := tag.Region()
		return region.String() == "PT"
	}
	return suffixCurrency[base.String()]
}

func formatNumber(value string, c FormatConfig) string {
	v, ok := parseLeadingFloat(value)
	if !ok {
		return value
	}
	p := message.NewPrinter(localeTag(c.Locale))

	switch c.ToFormat {
	case NumberCurrency:
		unit := currency.USD
		if c.Currency != "" {
			if u, err := currency.ParseISO(c.Currency); err == nil {
				unit = u
			}
		}
		scale, _ := currency.Standard.Rounding(unit)
		sign := ""
		if v < 0 {
			sign = "-"
			v = -v
		}
		sym, ok := currencySymbols[unit]
		if !ok {
			sym = unit.String() + " "
		}
		amount := p.Sprint(number.Decimal(v, number.MinFractionDigits(scale), number.MaxFractionDigits(scale)))
		if symbolAfter(localeTag(c.Locale)) {
			return sign + amount + "\u00a0" + strings.TrimSpace(sym)
		}
		return sign + sym + amount
	case NumberPercent:
		return p.Sprint(number.Decimal(v, number.MinFractionDigits(2), number.MaxFractionDigits(2))) + "%"
	default:
		return p.Sprint(number.Decimal(v, number.MaxFractionDigits(3)))
	}
}

// applyPattern replaces every 'X' in pattern with the first character of value.
func applyPattern(value, pattern string) string {
	r, _ := utf8.DecodeRuneInString(value)
	first := ""
	if value != "" {
		first = string(r)
	}
	return strings.ReplaceAll(pattern, "X", first)
}
