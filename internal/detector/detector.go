// Package detector proposes transformations between a file's source columns
// and a schema's target columns. Each category is evaluated on its own and
// all candidates are returned; callers resolve overlaps by keeping only the
// transformations whose targets they accept.
package detector

import (
	"fmt"
	"math"

	"csvmerge/internal/matcher"
	"csvmerge/internal/transformer"
	"csvmerge/internal/transformer/builtin"
)

// Detection is one candidate transformation. Confidence is advisory.
type Detection struct {
	Type          transformer.Kind  `json:"type"`
	SourceColumns []string          `json:"sourceColumns"`
	TargetColumns []string          `json:"targetColumns"`
	Confidence    float64           `json:"confidence"`
	Description   string            `json:"description"`
	Config        *transformer.Spec `json:"config"`
}

// Fixed confidences for shape-based detections.
const (
	MiddleNameConfidence = 0.85
	AddressConfidence    = 0.8
	PhoneConfidence      = 0.9
	DateTimeConfidence   = 0.85
)

var (
	fullNamePatterns       = []string{"name", "full name", "fullname", "customer name", "person name"}
	firstNamePatterns      = []string{"first name", "firstname", "given name", "givenname"}
	lastNamePatterns       = []string{"last name", "lastname", "surname", "family name"}
	middleNamePatterns     = []string{"middle name", "middlename", "middle initial"}
	sourceFirstPatterns    = []string{"first name", "firstname", "given name"}
	sourceLastPatterns     = []string{"last name", "lastname", "surname"}
	targetFullNamePatterns = []string{"name", "full name", "fullname", "customer name"}

	addressPatterns = []string{"address", "full address", "complete address", "location"}
	streetPatterns  = []string{"street", "street address", "address1", "address line 1"}
	cityPatterns    = []string{"city", "town", "municipality"}
	statePatterns   = []string{"state", "province", "region"}
	zipPatterns     = []string{"zip", "zipcode", "zip code", "postal code", "postcode"}

	phonePatterns = []string{"phone", "phone number", "telephone", "mobile", "cell"}

	datePatterns     = []string{"date", "event date", "start date"}
	timePatterns     = []string{"time", "event time", "start time"}
	datetimePatterns = []string{"datetime", "date time", "timestamp"}
)

// Detector runs the category checks with one Matcher.
type Detector struct {
	Matcher matcher.Matcher
}

// Detect runs the default Detector.
func Detect(sourceColumns, targetColumns []string) []Detection {
	return Detector{}.Detect(sourceColumns, targetColumns)
}

// Detect returns candidates in category order: names, address, phone, date/time.
func (d Detector) Detect(sourceColumns, targetColumns []string) []Detection {
	var out []Detection
	out = append(out, d.names(sourceColumns, targetColumns)...)
	out = append(out, d.address(sourceColumns, targetColumns)...)
	out = append(out, d.phone(sourceColumns, targetColumns)...)
	out = append(out, d.dateTime(sourceColumns, targetColumns)...)
	return out
}

func (d Detector) first(patterns, columns []string) (matcher.Match, bool) {
	found := d.Matcher.Find(patterns, columns)
	if len(found) == 0 {
		return matcher.Match{}, false
	}
	return found[0], true
}

func (d Detector) names(src, dst []string) []Detection {
	var out []Detection

	full, okFull := d.first(fullNamePatterns, src)
	firstT, okFirst := d.first(firstNamePatterns, dst)
	lastT, okLast := d.first(lastNamePatterns, dst)
	if okFull && okFirst && okLast && firstT.Index != lastT.Index {
		out = append(out, Detection{
			Type:          transformer.KindSplit,
			SourceColumns: []string{full.Column},
			TargetColumns: []string{firstT.Column, lastT.Column},
			Confidence:    confidence(full, firstT, lastT),
			Description:   fmt.Sprintf("Split %q into first and last names", full.Column),
			Config:        transformer.NewSpec(builtin.SplitFullName(firstT.Column, lastT.Column)),
		})
	}

	firstS, okFirstS := d.first(sourceFirstPatterns, src)
	lastS, okLastS := d.first(sourceLastPatterns, src)
	fullT, okFullT := d.first(targetFullNamePatterns, dst)
	if okFirstS && okLastS && okFullT && firstS.Index != lastS.Index {
		out = append(out, Detection{
			Type:          transformer.KindCombine,
			SourceColumns: []string{firstS.Column, lastS.Column},
			TargetColumns: []string{fullT.Column},
			Confidence:    confidence(firstS, lastS, fullT),
			Description:   fmt.Sprintf("Combine first and last names into %q", fullT.Column),
			Config:        transformer.NewSpec(builtin.CombineFirstLast()),
		})
	}

	middle, okMiddle := d.first(middleNamePatterns, dst)
	if okFull && okFirst && okLast && okMiddle {
		out = append(out, Detection{
			Type:          transformer.KindSplit,
			SourceColumns: []string{full.Column},
			TargetColumns: []string{firstT.Column, middle.Column, lastT.Column},
			Confidence:    MiddleNameConfidence,
			Description:   fmt.Sprintf("Split %q into first, middle, and last names", full.Column),
			Config: transformer.NewSpec(transformer.CustomConfig{
				Handler: builtin.HandlerSplitNameWithMiddle,
				Targets: map[string]string{
					builtin.RoleFirst:  firstT.Column,
					builtin.RoleMiddle: middle.Column,
					builtin.RoleLast:   lastT.Column,
				},
			}),
		})
	}
	return out
}

func (d Detector) address(src, dst []string) []Detection {
	addr, ok := d.first(addressPatterns, src)
	if !ok {
		return nil
	}
	street, okStreet := d.first(streetPatterns, dst)
	city, okCity := d.first(cityPatterns, dst)
	if !okStreet || !okCity {
		return nil
	}

	targets := []string{street.Column, city.Column}
	roles := map[string]string{builtin.RoleStreet: street.Column, builtin.RoleCity: city.Column}
	if state, ok := d.first(statePatterns, dst); ok {
		targets = append(targets, state.Column)
		roles[builtin.RoleState] = state.Column
	}
	if zip, ok := d.first(zipPatterns, dst); ok {
		targets = append(targets, zip.Column)
		roles[builtin.RoleZip] = zip.Column
	}

	return []Detection{{
		Type:          transformer.KindSplit,
		SourceColumns: []string{addr.Column},
		TargetColumns: targets,
		Confidence:    AddressConfidence,
		Description:   fmt.Sprintf("Split %q into address components", addr.Column),
		Config: transformer.NewSpec(transformer.CustomConfig{
			Handler: builtin.HandlerSplitAddress,
			Targets: roles,
		}),
	}}
}

func (d Detector) phone(src, dst []string) []Detection {
	s, okS := d.first(phonePatterns, src)
	t, okT := d.first(phonePatterns, dst)
	if !okS || !okT {
		return nil
	}
	return []Detection{{
		Type:          transformer.KindFormat,
		SourceColumns: []string{s.Column},
		TargetColumns: []string{t.Column},
		Confidence:    PhoneConfidence,
		Description:   "Format phone number",
		Config:        transformer.NewSpec(builtin.FormatPhoneUS()),
	}}
}

func (d Detector) dateTime(src, dst []string) []Detection {
	date, okDate := d.first(datePatterns, src)
	tm, okTime := d.first(timePatterns, src)
	dt, okDT := d.first(datetimePatterns, dst)
	if !okDate || !okTime || !okDT || date.Index == tm.Index {
		return nil
	}
	return []Detection{{
		Type:          transformer.KindCombine,
		SourceColumns: []string{date.Column, tm.Column},
		TargetColumns: []string{dt.Column},
		Confidence:    DateTimeConfidence,
		Description:   fmt.Sprintf("Combine date and time into %q", dt.Column),
		Config:        transformer.NewSpec(builtin.CombineDatetime()),
	}}
}

// confidence is the weakest of the underlying match scores, clamped to [0,1].
func confidence(ms ...matcher.Match) float64 {
	c := 1.0
	for _, m := range ms {
		c = math.Min(c, m.Score)
	}
	return math.Max(0, math.Min(1, c))
}
