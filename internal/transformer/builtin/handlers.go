package builtin

import (
	"regexp"
	"strings"

	"csvmerge/internal/transformer"
	"csvmerge/pkg/records"
)

// Custom handler names.
const (
	HandlerSplitNameWithMiddle = "splitFullNameWithMiddle"
	HandlerSplitAddress        = "splitAddress"
)

// Handler roles, used as keys of CustomConfig.Targets.
const (
	RoleFirst  = "first"
	RoleMiddle = "middle"
	RoleLast   = "last"
	RoleStreet = "street"
	RoleCity   = "city"
	RoleState  = "state"
	RoleZip    = "zip"
)

var defaultTargets = map[string]string{
	RoleFirst:  "First Name",
	RoleMiddle: "Middle Name",
	RoleLast:   "Last Name",
	RoleStreet: StreetColumn,
	RoleCity:   CityColumn,
	RoleState:  "State",
	RoleZip:    "Zip",
}

// Handlers returns the custom handlers understood by NewEngine.
func Handlers() map[string]transformer.Handler {
	return map[string]transformer.Handler{
		HandlerSplitNameWithMiddle: splitNameHandler,
		HandlerSplitAddress:        splitAddressHandler,
	}
}

// NewEngine returns a transformer.Engine with every builtin handler registered.
func NewEngine() *transformer.Engine {
	return transformer.New(Handlers())
}

func splitNameHandler(row records.Row, sourceColumns []string, cfg transformer.CustomConfig) (records.Row, error) {
	n := splitWithMiddle(firstValue(row, sourceColumns))
	return emit(cfg, []string{RoleFirst, RoleMiddle, RoleLast}, map[string]string{
		RoleFirst:  n.First,
		RoleMiddle: n.Middle,
		RoleLast:   n.Last,
	}), nil
}

var (
	zipRe      = regexp.MustCompile(ZipPattern)
	stateZipRe = regexp.MustCompile(`^([A-Za-z][A-Za-z .]*?)\s*(\d{5}(?:-\d{4})?)?$`)
)

// Address is a US-style postal address broken into parts.
type Address struct {
	Street string
	City   string
	State  string
	Zip    string
}

// ParseAddress reads "street, city, ST 12345" or "street, city, ST, 12345".
// Missing parts stay empty; a ZIP anywhere in the value is still found.
func ParseAddress(s string) Address {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	var a Address
	if len(parts) > 0 {
		a.Street = parts[0]
	}
	if len(parts) > 1 {
		a.City = parts[1]
	}
	switch {
	case len(parts) > 3:
		a.State = parts[2]
		a.Zip = parts[3]
	case len(parts) == 3:
		if m := stateZipRe.FindStringSubmatch(parts[2]); m != nil {
			a.State = strings.TrimSpace(m[1])
			a.Zip = m[2]
		} else {
			a.State = parts[2]
		}
	}
	if a.Zip == "" {
		a.Zip = zipRe.FindString(s)
		if a.Zip != "" && a.State != "" {
			a.State = strings.TrimSpace(strings.TrimSuffix(a.State, a.Zip))
		}
	}
	return a
}

func splitAddressHandler(row records.Row, sourceColumns []string, cfg transformer.CustomConfig) (records.Row, error) {
	a := ParseAddress(firstValue(row, sourceColumns))
	return emit(cfg, []string{RoleStreet, RoleCity, RoleState, RoleZip}, map[string]string{
		RoleStreet: a.Street,
		RoleCity:   a.City,
		RoleState:  a.State,
		RoleZip:    a.Zip,
	}), nil
}

func firstValue(row records.Row, sourceColumns []string) string {
	if len(sourceColumns) == 0 {
		return ""
	}
	return row[sourceColumns[0]]
}

// emit keys values by target column. With no targets configured every role is
// written under its default column; otherwise only the configured roles are.
func emit(cfg transformer.CustomConfig, roles []string, values map[string]string) records.Row {
	out := make(records.Row, len(roles))
	for _, role := range roles {
		col := defaultTargets[role]
		if len(cfg.Targets) > 0 {
			var ok bool
			if col, ok = cfg.Targets[role]; !ok || col == "" {
				continue
			}
		}
		out[col] = values[role]
	}
	return out
}
