package extraction

import (
	"strings"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

// rawOption and rawField mirror the objects the scan scripts build in the page.
type rawOption struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Selector string `json:"selector"`
}

type rawField struct {
	Name         string      `json:"name"`
	ID           string      `json:"id"`
	Label        string      `json:"label"`
	Type         string      `json:"type"`
	Tag          string      `json:"tag"`
	Options      []rawOption `json:"options"`
	Required     bool        `json:"required"`
	Hidden       bool        `json:"hidden"`
	Placeholder  string      `json:"placeholder"`
	Selector     string      `json:"selector"`
	Custom       bool        `json:"custom"`
	Min          *float64    `json:"min"`
	Max          *float64    `json:"max"`
	Step         *float64    `json:"step"`
	Accept       string      `json:"accept"`
	Multiple     bool        `json:"multiple"`
	MaxLength    int         `json:"maxLength"`
	Rows         []string    `json:"rows"`
	Columns      []string    `json:"columns"`
	Format       string      `json:"format"`
	HostSelector string      `json:"hostSelector"`
}

type rawForm struct {
	FormIndex int        `json:"formIndex"`
	Action    string     `json:"action"`
	Method    string     `json:"method"`
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Fields    []rawField `json:"fields"`
}

func (r rawField) descriptor(source string) schemas.FieldDescriptor {
	ft := schemas.ParseFieldType(r.Type)
	if r.Tag == "textarea" && ft == schemas.FieldText {
		ft = schemas.FieldTextarea
	}
	d := schemas.FieldDescriptor{
		Name:              strings.TrimSpace(r.Name),
		ID:                r.ID,
		Label:             strings.TrimSpace(r.Label),
		Type:              ft,
		Required:          r.Required,
		Hidden:            r.Hidden,
		Placeholder:       strings.TrimSpace(r.Placeholder),
		IsCustomComponent: r.Custom,
		Selector:          r.Selector,
		Source:            source,
		Min:               r.Min,
		Max:               r.Max,
		Step:              r.Step,
		Accept:            r.Accept,
		Multiple:          r.Multiple,
		Format:            r.Format,
		Rows:              r.Rows,
		Columns:           r.Columns,
		MaxLength:         r.MaxLength,
	}
	if len(r.Options) > 0 {
		d.Options = make([]schemas.Option, 0, len(r.Options))
		for _, o := range r.Options {
			d.Options = append(d.Options, schemas.Option{Value: o.Value, Label: strings.TrimSpace(o.Label), Selector: o.Selector})
		}
	}
	return d
}

func (r rawForm) schema(url, strategy string) schemas.FormSchema {
	s := schemas.FormSchema{
		FormIndex: r.FormIndex,
		Action:    r.Action,
		Method:    strings.ToLower(r.Method),
		URL:       url,
		Strategy:  strategy,
		ID:        r.ID,
		Name:      r.Name,
		Fields:    make([]schemas.FieldDescriptor, 0, len(r.Fields)),
	}
	for _, f := range r.Fields {
		s.Fields = append(s.Fields, f.descriptor(strategy))
	}
	s.Fields = normalize(s.Fields)
	return s
}

func schemasFromRaw(forms []rawForm, url, strategy string) []schemas.FormSchema {
	out := make([]schemas.FormSchema, 0, len(forms))
	for _, f := range forms {
		out = append(out, f.schema(url, strategy))
	}
	return out
}
