package builtin

import "strings"

// Name is a person name broken into parts.
type Name struct {
	First  string
	Middle string
	Last   string
}

// SmartNameSplit handles "Doe, John", "John", "John Doe" and
// "John Michael Doe" (rest after the first word becomes the last name).
func SmartNameSplit(full string) Name {
	full = strings.TrimSpace(full)
	if full == "" {
		return Name{}
	}

	if strings.Contains(full, ",") {
		parts := strings.Split(full, ",")
		n := Name{Last: strings.TrimSpace(parts[0])}
		if len(parts) > 1 {
			n.First = strings.TrimSpace(parts[1])
		}
		return n
	}

	parts := strings.Fields(full)
	if len(parts) == 1 {
		return Name{First: parts[0]}
	}
	return Name{First: parts[0], Last: strings.Join(parts[1:], " ")}
}

// splitWithMiddle keeps the last word as the last name and everything between
// first and last as the middle name. "Doe, John Q" reads as last-name-first.
func splitWithMiddle(full string) Name {
	full = strings.TrimSpace(full)
	if full == "" {
		return Name{}
	}

	if last, rest, ok := strings.Cut(full, ","); ok {
		n := Name{Last: strings.TrimSpace(last)}
		words := strings.Fields(rest)
		if len(words) > 0 {
			n.First = words[0]
			n.Middle = strings.Join(words[1:], " ")
		}
		return n
	}

	words := strings.Fields(full)
	switch len(words) {
	case 1:
		return Name{First: words[0]}
	case 2:
		return Name{First: words[0], Last: words[1]}
	default:
		return Name{
			First:  words[0],
			Middle: strings.Join(words[1:len(words)-1], " "),
			Last:   words[len(words)-1],
		}
	}
}
