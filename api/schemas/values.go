package schemas

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueKind tags which arm of a Value is populated.
type ValueKind int

const (
	ValueText ValueKind = iota
	ValueList
	ValueGrid
)

// Value is what a caller wants placed in one field: a single string, a list of
// strings (checkbox groups, multi-file uploads) or a row to column mapping (grids).
type Value struct {
	Kind ValueKind
	Text string
	List []string
	Grid map[string]string
}

// Text builds a single string value.
func Text(s string) Value { return Value{Kind: ValueText, Text: s} }

// List builds a multi value.
func List(items ...string) Value { return Value{Kind: ValueList, List: items} }

// Grid builds a row to column mapping.
func Grid(m map[string]string) Value { return Value{Kind: ValueGrid, Grid: m} }

// Strings flattens any kind into a slice. Grid values come back as "row=column" in row order.
func (v Value) Strings() []string {
	switch v.Kind {
	case ValueList:
		return v.List
	case ValueGrid:
		rows := make([]string, 0, len(v.Grid))
		for r := range v.Grid {
			rows = append(rows, r)
		}
		sort.Strings(rows)
		out := make([]string, 0, len(rows))
		for _, r := range rows {
			out = append(out, r+"="+v.Grid[r])
		}
		return out
	default:
		if v.Text == "" {
			return nil
		}
		return []string{v.Text}
	}
}

// First returns the text, or the first list element.
func (v Value) First() string {
	if v.Kind == ValueList {
		if len(v.List) == 0 {
			return ""
		}
		return v.List[0]
	}
	return v.Text
}

// IsZero reports whether the value carries nothing to fill.
func (v Value) IsZero() bool {
	switch v.Kind {
	case ValueList:
		return len(v.List) == 0
	case ValueGrid:
		return len(v.Grid) == 0
	default:
		return v.Text == ""
	}
}

// MarshalJSON emits the natural JSON shape of whichever arm is set.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueList:
		return json.Marshal(v.List)
	case ValueGrid:
		return json.Marshal(v.Grid)
	default:
		return json.Marshal(v.Text)
	}
}

// UnmarshalJSON accepts a string, number, bool, array or object.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueFrom(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueFrom converts a decoded JSON or YAML scalar, sequence or mapping into a Value.
func ValueFrom(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Text(""), nil
	case string:
		return Text(t), nil
	case bool:
		return Text(strconv.FormatBool(t)), nil
	case int:
		return Text(strconv.Itoa(t)), nil
	case int64:
		return Text(strconv.FormatInt(t, 10)), nil
	case float64:
		return Text(strconv.FormatFloat(t, 'f', -1, 64)), nil
	case []interface{}:
		items := make([]string, 0, len(t))
		for i, el := range t {
			s, err := scalarString(el)
			if err != nil {
				return Value{}, fmt.Errorf("list element %d: %w", i, err)
			}
			items = append(items, s)
		}
		return List(items...), nil
	case []string:
		return List(t...), nil
	case map[string]interface{}:
		grid := make(map[string]string, len(t))
		for k, el := range t {
			s, err := scalarString(el)
			if err != nil {
				return Value{}, fmt.Errorf("grid row %q: %w", k, err)
			}
			grid[k] = s
		}
		return Grid(grid), nil
	case map[string]string:
		return Grid(t), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}

func scalarString(raw interface{}) (string, error) {
	v, err := ValueFrom(raw)
	if err != nil {
		return "", err
	}
	if v.Kind != ValueText {
		return "", fmt.Errorf("nested collections are not supported")
	}
	return v.Text, nil
}

// Values maps field names to the values a caller wants filled.
type Values map[string]Value

// ValuesFrom converts a generic decoded document (JSON or YAML) into Values.
func ValuesFrom(doc map[string]interface{}) (Values, error) {
	out := make(Values, len(doc))
	for name, raw := range doc {
		v, err := ValueFrom(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
