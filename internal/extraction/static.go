package extraction

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
)

const strategyStatic = "static"

var skipInputTypes = map[string]bool{"hidden": true, "reset": true, "button": true, "submit": true, "image": true}

// staticStrategy parses the serialized document. It sees no shadow roots and no
// computed styles, so it only runs when every live strategy came back empty.
type staticStrategy struct{}

func (staticStrategy) Name() string { return strategyStatic }

func (staticStrategy) Extract(ctx context.Context, page browser.Page) ([]schemas.FormSchema, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return nil, err
	}
	u, err := page.URL(ctx)
	if err != nil {
		return nil, err
	}
	return ExtractHTML(html, u)
}

// ExtractHTML builds schemas from an HTML snapshot without a browser. Relative
// form actions are resolved against baseURL.
func ExtractHTML(html, baseURL string) ([]schemas.FormSchema, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(baseURL)

	var out []schemas.FormSchema
	doc.Find("form").Each(func(i int, form *goquery.Selection) {
		s := schemas.FormSchema{
			FormIndex: i,
			Action:    resolveAction(base, form.AttrOr("action", "")),
			Method:    strings.ToLower(form.AttrOr("method", "get")),
			ID:        form.AttrOr("id", ""),
			Name:      form.AttrOr("name", ""),
			URL:       baseURL,
			Strategy:  strategyStatic,
			Fields:    staticFields(doc, form),
		}
		s.Fields = normalize(s.Fields)
		out = append(out, s)
	})

	if len(out) == 0 {
		// Formless pages: treat the body as one container when it holds real controls.
		body := doc.Find("body")
		fields := normalize(staticFields(doc, body))
		s := schemas.FormSchema{Method: "post", URL: baseURL, Strategy: strategyStatic, Fields: fields}
		if s.VisibleFieldCount() >= 2 {
			out = append(out, s)
		}
	}
	return out, nil
}

func resolveAction(base *url.URL, action string) string {
	if action == "" || base == nil {
		return action
	}
	ref, err := url.Parse(action)
	if err != nil {
		return action
	}
	return base.ResolveReference(ref).String()
}

func staticFields(doc *goquery.Document, root *goquery.Selection) []schemas.FieldDescriptor {
	var fields []schemas.FieldDescriptor
	root.Find("input, select, textarea").Each(func(_ int, el *goquery.Selection) {
		tag := goquery.NodeName(el)
		typ := strings.ToLower(el.AttrOr("type", "text"))
		if tag == "input" && skipInputTypes[typ] {
			return
		}
		switch tag {
		case "select":
			typ = "select"
		case "textarea":
			typ = "textarea"
		}

		f := schemas.FieldDescriptor{
			Name:        el.AttrOr("name", ""),
			ID:          el.AttrOr("id", ""),
			Type:        schemas.ParseFieldType(typ),
			Placeholder: el.AttrOr("placeholder", ""),
			Selector:    staticSelector(el, tag),
			Source:      strategyStatic,
			Hidden:      staticHidden(el),
		}
		_, f.Required = el.Attr("required")
		f.Required = f.Required || el.AttrOr("aria-required", "") == "true"
		_, f.Multiple = el.Attr("multiple")
		f.Accept = el.AttrOr("accept", "")
		if ml, err := strconv.Atoi(el.AttrOr("maxlength", "")); err == nil && ml > 0 {
			f.MaxLength = ml
		}
		f.Min = attrFloat(el, "min")
		f.Max = attrFloat(el, "max")
		f.Step = attrFloat(el, "step")

		switch f.Type {
		case schemas.FieldRadio, schemas.FieldCheckbox:
			f.Label = groupLabelStatic(el)
			optLabel := staticLabel(doc, el)
			if f.Type == schemas.FieldCheckbox && f.Label == "" {
				f.Label = optLabel
			}
			f.Options = []schemas.Option{{Value: el.AttrOr("value", "on"), Label: optLabel, Selector: f.Selector}}
		case schemas.FieldSelect:
			f.Label = staticLabel(doc, el)
			el.Find("option").Each(func(_ int, o *goquery.Selection) {
				label := strings.TrimSpace(o.Text())
				value, ok := o.Attr("value")
				if !ok {
					value = label
				}
				if value == "" && label == "" {
					return
				}
				f.Options = append(f.Options, schemas.Option{Value: value, Label: label})
			})
		default:
			f.Label = staticLabel(doc, el)
		}
		fields = append(fields, f)
	})

	root.Find("button[type=submit], input[type=submit], button:not([type])").Each(func(i int, b *goquery.Selection) {
		name := b.AttrOr("name", b.AttrOr("id", "submit_"+strconv.Itoa(i)))
		label := strings.TrimSpace(b.AttrOr("value", b.Text()))
		fields = append(fields, schemas.FieldDescriptor{
			Name:     name,
			ID:       b.AttrOr("id", ""),
			Label:    label,
			Type:     schemas.FieldSubmit,
			Selector: staticSelector(b, goquery.NodeName(b)),
			Source:   strategyStatic,
		})
	})
	return fields
}

func attrFloat(el *goquery.Selection, attr string) *float64 {
	v, ok := el.Attr(attr)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return nil
	}
	return &f
}

func staticHidden(el *goquery.Selection) bool {
	if _, ok := el.Attr("hidden"); ok {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(el.AttrOr("style", "")), " ", "")
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return true
	}
	return el.ParentsFiltered("[hidden], [aria-hidden=true]").Length() > 0
}

// staticSelector prefers an id, then a name scoped to the tag, then type.
func staticSelector(el *goquery.Selection, tag string) string {
	if id := el.AttrOr("id", ""); id != "" && !strings.ContainsAny(id, " \"'") {
		return "#" + id
	}
	if name := el.AttrOr("name", ""); name != "" {
		if v, ok := el.Attr("value"); ok && (el.AttrOr("type", "") == "radio" || el.AttrOr("type", "") == "checkbox") {
			return fmt.Sprintf("%s[name=%q][value=%q]", tag, name, v)
		}
		return fmt.Sprintf("%s[name=%q]", tag, name)
	}
	if typ := el.AttrOr("type", ""); typ != "" {
		return fmt.Sprintf("%s[type=%q]", tag, typ)
	}
	return tag
}

// staticLabel walks the markup-only part of the label ladder: explicit for,
// wrapping label, aria attributes, fieldset legend, placeholder, name.
func staticLabel(doc *goquery.Document, el *goquery.Selection) string {
	if id := el.AttrOr("id", ""); id != "" {
		var text string
		doc.Find("label").EachWithBreak(func(_ int, l *goquery.Selection) bool {
			if l.AttrOr("for", "") == id {
				text = cleanText(l.Text())
				return false
			}
			return true
		})
		if text != "" {
			return text
		}
	}
	if wrap := el.Closest("label"); wrap.Length() > 0 {
		if text := cleanText(wrap.Text()); text != "" {
			return text
		}
	}
	if aria := cleanText(el.AttrOr("aria-label", "")); aria != "" {
		return aria
	}
	if ids := el.AttrOr("aria-labelledby", ""); ids != "" {
		var parts []string
		for _, id := range strings.Fields(ids) {
			doc.Find("[id]").EachWithBreak(func(_ int, n *goquery.Selection) bool {
				if n.AttrOr("id", "") == id {
					parts = append(parts, cleanText(n.Text()))
					return false
				}
				return true
			})
		}
		if text := strings.TrimSpace(strings.Join(parts, " ")); text != "" {
			return text
		}
	}
	if legend := el.Closest("fieldset").ChildrenFiltered("legend"); legend.Length() > 0 {
		if text := cleanText(legend.First().Text()); text != "" {
			return text
		}
	}
	if ph := cleanText(el.AttrOr("placeholder", "")); ph != "" {
		return ph
	}
	return cleanText(strings.NewReplacer("_", " ", "-", " ").Replace(el.AttrOr("name", "")))
}

func groupLabelStatic(el *goquery.Selection) string {
	if legend := el.Closest("fieldset").ChildrenFiltered("legend"); legend.Length() > 0 {
		return cleanText(legend.First().Text())
	}
	if group := el.Closest("[role=radiogroup], [role=group]"); group.Length() > 0 {
		return cleanText(group.AttrOr("aria-label", ""))
	}
	return ""
}

func cleanText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(strings.TrimSuffix(s, "*"))
}
