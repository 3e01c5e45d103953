package transformer

import (
	"fmt"
	"regexp"
	"sync"

	"golang.org/x/text/currency"
)

// Validate checks that cfg carries every field its variant requires.
// It returns a *ConfigError (ErrInvalidConfig) for malformed configs and
// ErrUnsupported for anything that is not one of the package's variants.
func Validate(cfg Config) error {
	switch c := cfg.(type) {
	case nil:
		return invalid("", "config", "missing")
	case SplitConfig:
		return validateSplit(c)
	case CombineConfig:
		return nil
	case FormatConfig:
		return validateFormat(c)
	case ExtractConfig:
		return validateExtract(c)
	case ConditionalConfig:
		return validateConditional(c)
	case CustomConfig:
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, cfg)
	}
}

func validateSplit(c SplitConfig) error {
	if c.Delimiter == "" {
		return invalid(KindSplit, "delimiter", "required")
	}
	if len(c.Parts) == 0 {
		return invalid(KindSplit, "parts", "at least one part is required")
	}
	seen := make(map[string]struct{}, len(c.Parts))
	for i, p := range c.Parts {
		if p.TargetColumn == "" {
			return invalid(KindSplit, fmt.Sprintf("parts[%d].targetColumn", i), "required")
		}
		if _, dup := seen[p.TargetColumn]; dup {
			return invalid(KindSplit, fmt.Sprintf("parts[%d].targetColumn", i), "duplicate "+p.TargetColumn)
		}
		seen[p.TargetColumn] = struct{}{}
	}
	return nil
}

func validateFormat(c FormatConfig) error {
	switch c.Operation {
	case OpUppercase, OpLowercase, OpCapitalize, OpPhone, OpDate:
	case OpNumber:
		if c.Currency != "" {
			if _, err := currency.ParseISO(c.Currency); err != nil {
				return invalid(KindFormat, "currency", err.Error())
			}
		}
	case OpCustom:
		if c.CustomPattern == "" {
			return invalid(KindFormat, "customPattern", "required for custom operation")
		}
	case "":
		return invalid(KindFormat, "operation", "required")
	default:
		return invalid(KindFormat, "operation", fmt.Sprintf("unknown %q", c.Operation))
	}
	return nil
}

func validateExtract(c ExtractConfig) error {
	switch c.ExtractType {
	case ExtractRegex:
		if c.Pattern == "" {
			return invalid(KindExtract, "pattern", "required for regex")
		}
		if _, err := compileCached(c.Pattern); err != nil {
			return invalid(KindExtract, "pattern", err.Error())
		}
		if c.GroupIndex < 0 {
			return invalid(KindExtract, "groupIndex", "must not be negative")
		}
	case ExtractBefore, ExtractAfter:
		if c.Pattern == "" {
			return invalid(KindExtract, "pattern", "required for "+c.ExtractType)
		}
	case ExtractBetween:
		if c.StartPattern == "" || c.EndPattern == "" {
			return invalid(KindExtract, "startPattern/endPattern", "both required for between")
		}
	case ExtractEmailDomain:
	case ExtractDatePart:
		switch c.DatePart {
		case "", "year", "month", "day", "hour", "minute":
		default:
			return invalid(KindExtract, "datePart", fmt.Sprintf("unknown %q", c.DatePart))
		}
	case "":
		return invalid(KindExtract, "extractType", "required")
	default:
		return invalid(KindExtract, "extractType", fmt.Sprintf("unknown %q", c.ExtractType))
	}
	return nil
}

func validateConditional(c ConditionalConfig) error {
	for i, cond := range c.Conditions {
		switch cond.If.Operator {
		case OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith, OpIsEmpty, OpIsNotEmpty:
		case "":
			return invalid(KindConditional, fmt.Sprintf("conditions[%d].if.operator", i), "required")
		default:
			return invalid(KindConditional, fmt.Sprintf("conditions[%d].if.operator", i), fmt.Sprintf("unknown %q", cond.If.Operator))
		}
		if err := validateAction(fmt.Sprintf("conditions[%d].then", i), cond.Then); err != nil {
			return err
		}
	}
	if c.Else != nil {
		return validateAction("else", *c.Else)
	}
	return nil
}

func validateAction(path string, a Action) error {
	switch a.Action {
	case ActionSetValue, ActionKeepOriginal:
	case ActionCopyFrom:
		if a.SourceColumn == "" {
			return invalid(KindConditional, path+".sourceColumn", "required for copy_from")
		}
	case ActionTransform:
		if a.Nested == nil {
			return invalid(KindConditional, path+".transformation", "required for transform")
		}
		if err := Validate(a.Nested); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	case "":
		return invalid(KindConditional, path+".action", "required")
	default:
		return invalid(KindConditional, path+".action", fmt.Sprintf("unknown %q", a.Action))
	}
	return nil
}

var regexCache sync.Map // pattern -> *regexp.Regexp

func compileCached(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}
