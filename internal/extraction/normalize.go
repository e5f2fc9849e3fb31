package extraction

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

var nameJunk = regexp.MustCompile(`[^a-z0-9]+`)

// fallbackName derives a field name from whatever identifying text the control has.
func fallbackName(f schemas.FieldDescriptor, index int) string {
	for _, candidate := range []string{f.ID, f.Label, f.Placeholder} {
		n := strings.Trim(nameJunk.ReplaceAllString(strings.ToLower(candidate), "_"), "_")
		if n != "" {
			return n
		}
	}
	return fmt.Sprintf("%s_%d", f.Type, index)
}

func groupable(t schemas.FieldType) bool {
	return t == schemas.FieldRadio || t == schemas.FieldCheckbox || t == schemas.FieldCheckboxGroup
}

// normalize enforces the schema invariants whichever strategy produced the
// fields: every field has a name, names are unique, and same-named radios or
// checkboxes are a single descriptor carrying all their options.
func normalize(fields []schemas.FieldDescriptor) []schemas.FieldDescriptor {
	out := make([]schemas.FieldDescriptor, 0, len(fields))
	index := make(map[string]int, len(fields))

	for i, f := range fields {
		if f.Name == "" {
			f.Name = fallbackName(f, i)
		}
		pos, seen := index[f.Name]
		if !seen {
			index[f.Name] = len(out)
			out = append(out, f)
			continue
		}

		existing := &out[pos]
		if !groupable(existing.Type) || !groupable(f.Type) {
			// First occurrence wins for anything that cannot be merged.
			continue
		}
		for _, o := range f.Options {
			if !hasOption(existing.Options, o) {
				existing.Options = append(existing.Options, o)
			}
		}
		existing.Required = existing.Required || f.Required
		existing.Hidden = existing.Hidden && f.Hidden
		if existing.Label == "" {
			existing.Label = f.Label
		}
	}

	for i := range out {
		if out[i].Type == schemas.FieldCheckbox && len(out[i].Options) > 1 {
			out[i].Type = schemas.FieldCheckboxGroup
		}
	}
	return out
}

func hasOption(opts []schemas.Option, o schemas.Option) bool {
	for _, e := range opts {
		if e.Value == o.Value && e.Selector == o.Selector {
			return true
		}
	}
	return false
}

// unionFields appends every field of extra whose name is not already present.
func unionFields(base, extra []schemas.FieldDescriptor) []schemas.FieldDescriptor {
	seen := make(map[string]struct{}, len(base))
	for _, f := range base {
		seen[f.Name] = struct{}{}
	}
	for _, f := range extra {
		if _, ok := seen[f.Name]; ok {
			continue
		}
		seen[f.Name] = struct{}{}
		base = append(base, f)
	}
	return base
}

func nonEmpty(forms []schemas.FormSchema) []schemas.FormSchema {
	out := forms[:0:0]
	for _, f := range forms {
		if !f.IsEmpty() {
			out = append(out, f)
		}
	}
	return out
}
