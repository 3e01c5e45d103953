// Package builtin contains reusable transformation configs for common column
// shapes (names, addresses, dates, phones) and the named custom handlers the
// detector proposes.
package builtin

import (
	"strings"

	"csvmerge/internal/transformer"
)

// ZipPattern matches a US ZIP or ZIP+4 code.
const ZipPattern = `\b\d{5}(?:-\d{4})?\b`

// Default output columns for address splits.
const (
	StreetColumn   = "Street Address"
	CityColumn     = "City"
	StateZipColumn = "State/Zip"
)

// SplitFullName splits "John Doe" on spaces: first piece to first, last
// piece to last. Middle words are dropped.
func SplitFullName(first, last string) transformer.SplitConfig {
	return transformer.SplitConfig{
		Delimiter: " ",
		Trim:      true,
		Parts: []transformer.SplitPart{
			{Index: 0, TargetColumn: first},
			{Index: -1, TargetColumn: last},
		},
	}
}

// SplitLastFirstName splits "Doe, John".
func SplitLastFirstName(first, last string) transformer.SplitConfig {
	return transformer.SplitConfig{
		Delimiter: ",",
		Trim:      true,
		Parts: []transformer.SplitPart{
			{Index: 1, TargetColumn: first},
			{Index: 0, TargetColumn: last},
		},
	}
}

func CombineFirstLast() transformer.CombineConfig {
	return transformer.CombineConfig{Separator: " ", SkipEmpty: true, Trim: true}
}

// SplitFullAddress splits "123 Main St, New York, NY 10001" on commas.
// State and ZIP stay together; use the splitAddress handler to separate them.
func SplitFullAddress() transformer.SplitConfig {
	return transformer.SplitConfig{
		Delimiter: ",",
		Trim:      true,
		Parts: []transformer.SplitPart{
			{Index: 0, TargetColumn: StreetColumn},
			{Index: 1, TargetColumn: CityColumn},
			{Index: 2, TargetColumn: StateZipColumn},
		},
	}
}

func ExtractZipCode() transformer.ExtractConfig {
	return transformer.ExtractConfig{ExtractType: transformer.ExtractRegex, Pattern: ZipPattern}
}

// CombineDatetime joins a date and a time column. Empty halves are kept so
// the separator position stays stable.
func CombineDatetime() transformer.CombineConfig {
	return transformer.CombineConfig{Separator: " ", Trim: true}
}

func ExtractYear() transformer.ExtractConfig {
	return transformer.ExtractConfig{ExtractType: transformer.ExtractDatePart, DatePart: "year"}
}

func CleanPhone() transformer.FormatConfig {
	return transformer.FormatConfig{Operation: transformer.OpPhone, ToFormat: transformer.PhoneClean}
}

func FormatPhoneUS() transformer.FormatConfig {
	return transformer.FormatConfig{Operation: transformer.OpPhone, ToFormat: transformer.PhoneParens}
}

// SuggestTransformation proposes a single config for mapping source onto the
// given targets using plain keyword checks. It returns nil when nothing fits.
func SuggestTransformation(source string, targets []string) transformer.Config {
	s := strings.ToLower(strings.TrimSpace(source))

	switch s {
	case "name", "full name", "fullname":
		first, okFirst := findContaining(targets, "first")
		last, okLast := findContaining(targets, "last")
		if okFirst && okLast {
			return SplitFullName(first, last)
		}
	}
	if strings.Contains(s, "address") && len(targets) > 1 {
		return SplitFullAddress()
	}
	if strings.Contains(s, "phone") {
		return CleanPhone()
	}
	return nil
}

func findContaining(cols []string, word string) (string, bool) {
	for _, c := range cols {
		if strings.Contains(strings.ToLower(c), word) {
			return c, true
		}
	}
	return "", false
}
