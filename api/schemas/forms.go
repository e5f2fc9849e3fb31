package schemas

import "strings"

// -- Field Types --

// FieldType is the closed set of interactions the submitter knows how to perform.
type FieldType string

const (
	FieldText          FieldType = "text"
	FieldEmail         FieldType = "email"
	FieldTel           FieldType = "tel"
	FieldPassword      FieldType = "password"
	FieldNumber        FieldType = "number"
	FieldURL           FieldType = "url"
	FieldSearch        FieldType = "search"
	FieldTextarea      FieldType = "textarea"
	FieldSelect        FieldType = "select"
	FieldRadio         FieldType = "radio"
	FieldCheckbox      FieldType = "checkbox"
	FieldCheckboxGroup FieldType = "checkbox-group"
	FieldFile          FieldType = "file"
	FieldDate          FieldType = "date"
	FieldTime          FieldType = "time"
	FieldDateTimeLocal FieldType = "datetime-local"
	FieldMonth         FieldType = "month"
	FieldWeek          FieldType = "week"
	FieldRange         FieldType = "range"
	FieldScale         FieldType = "scale"
	FieldGrid          FieldType = "grid"
	FieldColor         FieldType = "color"
	FieldSubmit        FieldType = "submit"
	FieldRichText      FieldType = "richtext"
	FieldAutocomplete  FieldType = "autocomplete"
)

var knownFieldTypes = map[FieldType]struct{}{
	FieldText: {}, FieldEmail: {}, FieldTel: {}, FieldPassword: {}, FieldNumber: {},
	FieldURL: {}, FieldSearch: {}, FieldTextarea: {}, FieldSelect: {}, FieldRadio: {},
	FieldCheckbox: {}, FieldCheckboxGroup: {}, FieldFile: {}, FieldDate: {}, FieldTime: {},
	FieldDateTimeLocal: {}, FieldMonth: {}, FieldWeek: {}, FieldRange: {}, FieldScale: {},
	FieldGrid: {}, FieldColor: {}, FieldSubmit: {}, FieldRichText: {}, FieldAutocomplete: {},
}

// ParseFieldType maps a raw DOM type (or a provider specific label) to a FieldType.
// Unknown input types degrade to text, which is how browsers render them.
func ParseFieldType(raw string) FieldType {
	t := FieldType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case "select-one", "select-multiple", "dropdown", "combobox":
		return FieldSelect
	case "checkboxes", "checkbox_group":
		return FieldCheckboxGroup
	case "linear-scale", "rating":
		return FieldScale
	case "paragraph":
		return FieldTextarea
	case "contenteditable":
		return FieldRichText
	case "button", "image":
		return FieldSubmit
	}
	if _, ok := knownFieldTypes[t]; ok {
		return t
	}
	return FieldText
}

// IsTextLike reports whether the field is filled by typing characters.
func (t FieldType) IsTextLike() bool {
	switch t {
	case FieldText, FieldEmail, FieldTel, FieldPassword, FieldNumber, FieldURL,
		FieldSearch, FieldTextarea, FieldRichText, FieldAutocomplete:
		return true
	}
	return false
}

// IsDateFamily covers every native temporal input.
func (t FieldType) IsDateFamily() bool {
	switch t {
	case FieldDate, FieldTime, FieldDateTimeLocal, FieldMonth, FieldWeek:
		return true
	}
	return false
}

// IsTrigger reports whether filling this type can reveal or hide other fields.
func (t FieldType) IsTrigger() bool {
	switch t {
	case FieldRadio, FieldCheckbox, FieldCheckboxGroup, FieldSelect, FieldScale:
		return true
	}
	return false
}

// IsGroup reports whether a type aggregates several same-named inputs.
func (t FieldType) IsGroup() bool {
	return t == FieldRadio || t == FieldCheckboxGroup || t == FieldScale || t == FieldGrid
}

// -- Schemas --

// Option is a selectable choice of a select, radio, checkbox-group or scale.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
	// Selector targets the option node when it is a custom component rather
	// than a native input sharing the field's name.
	Selector string `json:"selector,omitempty"`
}

// ValidationRule is a client side constraint inferred from markup.
type ValidationRule struct {
	Kind    string `json:"kind"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// FieldDescriptor describes one fillable control. Name is unique within its form.
type FieldDescriptor struct {
	Name              string           `json:"name"`
	ID                string           `json:"id,omitempty"`
	Label             string           `json:"label,omitempty"`
	Type              FieldType        `json:"type"`
	Options           []Option         `json:"options,omitempty"`
	Required          bool             `json:"required"`
	Hidden            bool             `json:"hidden"`
	Placeholder       string           `json:"placeholder,omitempty"`
	DependentFields   []string         `json:"dependentFields,omitempty"`
	IsCustomComponent bool             `json:"isCustomComponent"`
	Selector          string           `json:"selector,omitempty"`
	Source            string           `json:"source,omitempty"`
	Purpose           string           `json:"purpose,omitempty"`
	DisplayName       string           `json:"displayName,omitempty"`
	Validation        []ValidationRule `json:"validation,omitempty"`

	// Range payload.
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`
	// File payload.
	Accept   string `json:"accept,omitempty"`
	Multiple bool   `json:"multiple,omitempty"`
	// Date family input format, e.g. "2006-01-02".
	Format string `json:"format,omitempty"`
	// Grid payload: each row is answered with one column.
	Rows    []string `json:"rows,omitempty"`
	Columns []string `json:"columns,omitempty"`
	// MaxLength mirrors the maxlength attribute when present.
	MaxLength int `json:"maxLength,omitempty"`
}

// OptionByValue returns the option whose value equals v, ignoring case.
func (f *FieldDescriptor) OptionByValue(v string) (Option, bool) {
	for _, o := range f.Options {
		if strings.EqualFold(o.Value, v) {
			return o, true
		}
	}
	return Option{}, false
}

// FormSchema is the structural description of one form on a page.
type FormSchema struct {
	FormIndex        int                    `json:"formIndex"`
	Action           string                 `json:"action,omitempty"`
	Method           string                 `json:"method,omitempty"`
	Fields           []FieldDescriptor      `json:"fields"`
	WizardStep       *int                   `json:"wizardStep,omitempty"`
	WizardTotalSteps *int                   `json:"wizardTotalSteps,omitempty"`
	URL              string                 `json:"url,omitempty"`
	Strategy         string                 `json:"strategy,omitempty"`
	ID               string                 `json:"id,omitempty"`
	Name             string                 `json:"name,omitempty"`
	Template         map[string]interface{} `json:"template,omitempty"`
}

// Field finds a descriptor by name.
func (s *FormSchema) Field(name string) (*FieldDescriptor, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// VisibleFieldCount counts fields a user could see, excluding submit controls.
func (s *FormSchema) VisibleFieldCount() int {
	n := 0
	for _, f := range s.Fields {
		if !f.Hidden && f.Type != FieldSubmit {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the schema has nothing to fill.
func (s *FormSchema) IsEmpty() bool {
	for _, f := range s.Fields {
		if f.Type != FieldSubmit {
			return false
		}
	}
	return true
}

// ConditionalRule records that changing Trigger to TriggerValue shows or hides Dependent.
type ConditionalRule struct {
	Trigger      string `json:"trigger"`
	TriggerValue string `json:"triggerValue"`
	Dependent    string `json:"dependent"`
	Effect       string `json:"effect"`
}

const (
	EffectShow = "show"
	EffectHide = "hide"
)

// ChainedSelect links a parent select to a child whose options depend on it.
type ChainedSelect struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

// PageReport bundles everything learned about a page in one inspection.
type PageReport struct {
	URL            string            `json:"url"`
	Forms          []FormSchema      `json:"forms"`
	Captcha        CaptchaDetection  `json:"captcha"`
	LoginRequired  bool              `json:"loginRequired"`
	BotProtection  bool              `json:"botProtection"`
	Dependencies   []ConditionalRule `json:"dependencies,omitempty"`
	ChainedSelects []ChainedSelect   `json:"chainedSelects,omitempty"`
}
