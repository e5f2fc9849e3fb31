package session

import (
	"testing"

	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

func TestDecodeResult(t *testing.T) {
	t.Run("unwraps envelope", func(t *testing.T) {
		var el *browser.Element
		err := decodeResult([]byte(`{"v":{"selector":"#a","tag":"input","visible":true}}`), &el)
		require.NoError(t, err)
		require.NotNil(t, el)
		assert.Equal(t, "#a", el.Selector)
		assert.True(t, el.Visible)
	})

	t.Run("null becomes nil", func(t *testing.T) {
		el := &browser.Element{Selector: "stale"}
		require.NoError(t, decodeResult([]byte(`{"v":null}`), &el))
		assert.Nil(t, el)
	})

	t.Run("missing value is treated as null", func(t *testing.T) {
		var s *string
		require.NoError(t, decodeResult([]byte(`{}`), &s))
		assert.Nil(t, s)
	})

	t.Run("nil out ignores result", func(t *testing.T) {
		assert.NoError(t, decodeResult([]byte(`not json`), nil))
	})

	t.Run("malformed", func(t *testing.T) {
		var n int
		err := decodeResult([]byte(`[1,2`), &n)
		assert.ErrorContains(t, err, "malformed script result")
	})
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, kb.Enter, keyFor("Enter"))
	assert.Equal(t, kb.Enter, keyFor("return"))
	assert.Equal(t, kb.Escape, keyFor("Esc"))
	assert.Equal(t, kb.Tab, keyFor("tab"))
	assert.Equal(t, kb.ArrowDown, keyFor("ArrowDown"))
	assert.Equal(t, "x", keyFor("x"))
}

func TestAllocatorFlags(t *testing.T) {
	cfg := config.BrowserConfig{
		Headless:        true,
		Stealth:         true,
		IgnoreTLSErrors: true,
		Viewport:        map[string]int{"width": 1280, "height": 720},
		Args:            []string{"--lang=fr-FR", "--enable-automation", "disable-sync", "--"},
	}

	flags := allocatorFlags(cfg, "linux")
	assert.Equal(t, "new", flags["headless"])
	assert.Equal(t, "AutomationControlled", flags["disable-blink-features"])
	assert.Equal(t, true, flags["ignore-certificate-errors"])
	assert.Equal(t, true, flags["no-sandbox"])
	assert.Equal(t, "1280,720", flags["window-size"])
	assert.Equal(t, "fr-FR", flags["lang"])
	assert.Equal(t, true, flags["disable-sync"])
	assert.NotContains(t, flags, "enable-automation")
	assert.NotContains(t, flags, "")

	headed := allocatorFlags(config.BrowserConfig{}, "darwin")
	assert.NotContains(t, headed, "headless")
	assert.NotContains(t, headed, "no-sandbox")
	assert.NotContains(t, headed, "disable-blink-features")
	assert.NotEmpty(t, allocatorOptions(cfg))
}

func TestPersonaFromConfig(t *testing.T) {
	p := PersonaFromConfig("", "", "", nil)
	assert.Equal(t, schemas.DefaultPersona, p)

	p = PersonaFromConfig("UA/1.0", "de-DE", "Europe/Berlin", map[string]int{"width": 800})
	assert.Equal(t, "UA/1.0", p.UserAgent)
	assert.Equal(t, "de-DE", p.Locale)
	assert.Equal(t, []string{"de-DE", "de"}, p.Languages)
	assert.Equal(t, "Europe/Berlin", p.Timezone)
	assert.Equal(t, int64(800), p.Width)
	assert.Equal(t, schemas.DefaultPersona.Height, p.Height)

	// The default persona must not be mutated through the copy.
	assert.Equal(t, []string{"en-US", "en"}, schemas.DefaultPersona.Languages)
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "en-US,en;q=0.9", acceptLanguage([]string{"en-US", "en"}))
	assert.Equal(t, "en-US", acceptLanguage(nil))
	assert.Equal(t, "fr", acceptLanguage([]string{"fr"}))
}
