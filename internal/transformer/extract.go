package transformer

import "strings"

func (e *Engine) extract(value string, c ExtractConfig) string {
	if value == "" {
		return ""
	}

	switch c.ExtractType {
	case ExtractRegex:
		re, err := compileCached(c.Pattern)
		if err != nil {
			return ""
		}
		m := re.FindStringSubmatch(value)
		if m == nil || c.GroupIndex >= len(m) {
			return ""
		}
		return m[c.GroupIndex]
	case ExtractBefore:
		if i := strings.Index(value, c.Pattern); i >= 0 {
			return value[:i]
		}
		return value
	case ExtractAfter:
		if i := strings.Index(value, c.Pattern); i >= 0 {
			return value[i+len(c.Pattern):]
		}
		return ""
	case ExtractBetween:
		start := strings.Index(value, c.StartPattern)
		if start < 0 {
			return ""
		}
		rest := value[start+len(c.StartPattern):]
		end := strings.Index(rest, c.EndPattern)
		if end < 0 {
			return ""
		}
		return rest[:end]
	case ExtractEmailDomain:
		_, domain, ok := strings.Cut(value, "@")
		if !ok {
			return ""
		}
		return domain
	case ExtractDatePart:
		return e.datePart(value, c.DatePart)
	}
	return ""
}
