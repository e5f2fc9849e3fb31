// Package enrich turns raw extracted schemas into schemas a caller can fill:
// every field gets a purpose, a display name and validation rules, each form
// gets a zero-valued template, and forms that are really search boxes or
// login widgets are dropped.
//
// Everything here is a pure function of its input.
package enrich

import (
	"strings"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

// maxWidgetFields is the visible field count at or below which a form may be a widget.
const maxWidgetFields = 2

var (
	excludeKeywords = []string{"search", "login", "log-in", "log_in", "signin", "sign-in", "sign_in", "searchform", "query"}
	keepKeywords    = []string{"contact", "feedback", "enquiry", "inquiry", "support", "message"}
)

// Enrich returns enriched copies of forms. Widgets are filtered out and the
// input slice is left untouched.
func Enrich(forms []schemas.FormSchema) []schemas.FormSchema {
	out := make([]schemas.FormSchema, 0, len(forms))
	for _, f := range forms {
		if IsWidget(f) {
			continue
		}
		out = append(out, Form(f))
	}
	return out
}

// Form enriches a single schema without filtering it.
func Form(f schemas.FormSchema) schemas.FormSchema {
	fields := make([]schemas.FieldDescriptor, len(f.Fields))
	for i, fd := range f.Fields {
		fd.Options = append([]schemas.Option(nil), fd.Options...)
		fd.DependentFields = append([]string(nil), fd.DependentFields...)
		fd.Purpose = Purpose(fd)
		fd.DisplayName = DisplayName(fd)
		fd.Validation = Rules(fd)
		fields[i] = fd
	}
	f.Fields = fields
	f.Template = Template(f)
	return f
}

// IsWidget reports whether a form looks like a site search box or a login
// widget rather than something worth filling. Only the form's own id, name
// and action can mark it as a widget; contact-style words there or in field
// names keep it.
func IsWidget(f schemas.FormSchema) bool {
	if f.VisibleFieldCount() > maxWidgetFields {
		return false
	}
	form := strings.ToLower(strings.Join([]string{f.ID, f.Name, f.Action}, " "))
	if !containsAny(form, excludeKeywords) {
		return false
	}
	keep := []string{form}
	for _, fd := range f.Fields {
		keep = append(keep, fd.ID, fd.Name)
	}
	return !containsAny(strings.ToLower(strings.Join(keep, " ")), keepKeywords)
}

// Template builds a zero-valued map keyed by field name, shaped for the
// field's type. Submit controls are omitted.
func Template(f schemas.FormSchema) map[string]interface{} {
	tpl := make(map[string]interface{}, len(f.Fields))
	for _, fd := range f.Fields {
		switch fd.Type {
		case schemas.FieldSubmit:
			continue
		case schemas.FieldCheckbox:
			tpl[fd.Name] = false
		case schemas.FieldCheckboxGroup:
			tpl[fd.Name] = []string{}
		case schemas.FieldFile:
			if fd.Multiple {
				tpl[fd.Name] = []string{}
			} else {
				tpl[fd.Name] = ""
			}
		case schemas.FieldGrid:
			grid := make(map[string]string, len(fd.Rows))
			for _, r := range fd.Rows {
				grid[r] = ""
			}
			tpl[fd.Name] = grid
		case schemas.FieldNumber, schemas.FieldRange:
			if fd.Min != nil {
				tpl[fd.Name] = *fd.Min
			} else {
				tpl[fd.Name] = 0.0
			}
		default:
			tpl[fd.Name] = ""
		}
	}
	return tpl
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
