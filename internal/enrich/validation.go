package enrich

import (
	"strconv"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

// Rule kinds.
const (
	RuleRequired  = "required"
	RulePattern   = "pattern"
	RuleMin       = "min"
	RuleMax       = "max"
	RuleStep      = "step"
	RuleMaxLength = "maxlength"
	RuleOneOf     = "oneOf"
	RuleAccept    = "accept"
)

// Patterns approximate what browsers enforce for the matching input types.
const (
	EmailPattern = `^[^\s@]+@[^\s@]+\.[^\s@]+$`
	PhonePattern = `^\+?[0-9 ()./-]{6,20}$`
	URLPattern   = `^https?://\S+$`
)

// Rules derives client side constraints from the descriptor.
func Rules(f schemas.FieldDescriptor) []schemas.ValidationRule {
	if f.Type == schemas.FieldSubmit {
		return nil
	}
	var rules []schemas.ValidationRule
	if f.Required {
		rules = append(rules, schemas.ValidationRule{Kind: RuleRequired, Message: "This field is required."})
	}

	switch f.Type {
	case schemas.FieldEmail:
		rules = append(rules, schemas.ValidationRule{Kind: RulePattern, Value: EmailPattern, Message: "Enter a valid email address."})
	case schemas.FieldTel:
		rules = append(rules, schemas.ValidationRule{Kind: RulePattern, Value: PhonePattern, Message: "Enter a valid phone number."})
	case schemas.FieldURL:
		rules = append(rules, schemas.ValidationRule{Kind: RulePattern, Value: URLPattern, Message: "Enter a valid URL."})
	case schemas.FieldNumber, schemas.FieldRange:
		if f.Min != nil {
			rules = append(rules, schemas.ValidationRule{Kind: RuleMin, Value: formatFloat(*f.Min)})
		}
		if f.Max != nil {
			rules = append(rules, schemas.ValidationRule{Kind: RuleMax, Value: formatFloat(*f.Max)})
		}
		if f.Step != nil && *f.Step > 0 {
			rules = append(rules, schemas.ValidationRule{Kind: RuleStep, Value: formatFloat(*f.Step)})
		}
	case schemas.FieldSelect, schemas.FieldRadio, schemas.FieldScale:
		if len(f.Options) > 0 {
			rules = append(rules, schemas.ValidationRule{Kind: RuleOneOf, Value: strconv.Itoa(len(f.Options))})
		}
	case schemas.FieldFile:
		if f.Accept != "" {
			rules = append(rules, schemas.ValidationRule{Kind: RuleAccept, Value: f.Accept})
		}
	}

	if f.MaxLength > 0 && f.Type.IsTextLike() {
		rules = append(rules, schemas.ValidationRule{
			Kind:    RuleMaxLength,
			Value:   strconv.Itoa(f.MaxLength),
			Message: "At most " + strconv.Itoa(f.MaxLength) + " characters.",
		})
	}
	return rules
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
