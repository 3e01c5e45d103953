package detector

import (
	"csvmerge/internal/matcher"
)

// Mapping types reported by SuggestMappings.
const (
	MappingExact = "exact"
	MappingFuzzy = "fuzzy"
)

// Suggestion proposes a direct copy from SourceColumn into TargetColumn.
type Suggestion struct {
	TargetColumn string  `json:"targetColumn"`
	SourceColumn string  `json:"sourceColumn"`
	Confidence   float64 `json:"confidence"`
	MappingType  string  `json:"mappingType"`
}

// SuggestMappings runs the default Detector.
func SuggestMappings(sourceColumns, targetColumns []string) []Suggestion {
	return Detector{}.SuggestMappings(sourceColumns, targetColumns)
}

// SuggestMappings returns, in target order, the best source column for each
// target column that has one. Normalized-equal names are exact matches with
// confidence 1; anything else is fuzzy with the similarity as confidence.
func (d Detector) SuggestMappings(sourceColumns, targetColumns []string) []Suggestion {
	var out []Suggestion
	for _, target := range targetColumns {
		m := d.Matcher.Best(target, sourceColumns)
		if !m.Found {
			continue
		}
		s := Suggestion{TargetColumn: target, SourceColumn: m.Column, Confidence: m.Score, MappingType: MappingFuzzy}
		if matcher.Normalize(target) == matcher.Normalize(m.Column) {
			s.Confidence = 1
			s.MappingType = MappingExact
		}
		out = append(out, s)
	}
	return out
}
