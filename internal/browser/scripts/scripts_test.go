package scripts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllScriptsAreFunctionExpressions(t *testing.T) {
	names := map[string]bool{}
	for _, s := range All() {
		require.NotEmpty(t, s.Name)
		assert.False(t, names[s.Name], "duplicate script %s", s.Name)
		names[s.Name] = true

		src := strings.TrimPrefix(s.Source, "async ")
		assert.True(t, strings.HasPrefix(src, "function"), "%s must be a function expression", s.Name)
		assert.True(t, strings.HasSuffix(s.Source, "}"), "%s must end with its closing brace", s.Name)
	}
	assert.Len(t, names, len(All()))
}

func TestAsyncFlag(t *testing.T) {
	assert.True(t, CustomDropdown.Async)
	assert.True(t, AutocompletePick.Async)
	assert.False(t, ScanForms.Async)
}

func TestExpressionEncodesArguments(t *testing.T) {
	expr, err := ReadValue.Expression(`#a"b`, 3, []string{"x"}, map[string]bool{"k": true})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(expr, "(function(){"))
	assert.Contains(t, expr, "var FP =")
	assert.Contains(t, expr, `)("#a\"b",3,["x"],{"k":true});`)
	assert.True(t, strings.HasSuffix(expr, "})()"))
}

func TestExpressionWithoutArguments(t *testing.T) {
	expr, err := DetectCaptcha.Expression()
	require.NoError(t, err)
	assert.Contains(t, expr, "var __r = (function")
	assert.Contains(t, expr, ")();\n")
	assert.Contains(t, expr, "return { v: __r === undefined ? null : __r };")
}

func TestExpressionRejectsUnencodable(t *testing.T) {
	_, err := ReadValue.Expression(make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read_value")
}
