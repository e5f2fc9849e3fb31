package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/browsertest"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
	"github.com/xkilldash9x/scalpel-forms/internal/captcha"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
	"github.com/xkilldash9x/scalpel-forms/internal/service"
	"github.com/xkilldash9x/scalpel-forms/internal/store"
)

const contactHTML = `<html><body>
<form id="contact" action="/send" method="post">
  <label for="email">Email address</label>
  <input id="email" name="email" type="email" required>
  <label for="message">Message</label>
  <textarea id="message" name="message"></textarea>
  <button type="submit">Send</button>
</form>
</body></html>`

type fakeTab struct {
	*browsertest.Page
	mu     sync.Mutex
	closed bool
}

func (t *fakeTab) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

type fakeBrowser struct {
	mu    sync.Mutex
	setup func(*browsertest.Page)
	tabs  []*fakeTab
}

func (b *fakeBrowser) Open(context.Context) (service.Tab, error) {
	p := browsertest.New("about:blank")
	p.HTML = contactHTML
	if b.setup != nil {
		b.setup(p)
	}
	tab := &fakeTab{Page: p}
	b.mu.Lock()
	b.tabs = append(b.tabs, tab)
	b.mu.Unlock()
	return tab, nil
}

func (b *fakeBrowser) Shutdown(context.Context) error { return nil }

func (b *fakeBrowser) allClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tab := range b.tabs {
		tab.mu.Lock()
		closed := tab.closed
		tab.mu.Unlock()
		if !closed {
			return false
		}
	}
	return true
}

// harness runs the command tree against a fake browser and records the
// configuration the engine was built with.
type harness struct {
	t        *testing.T
	browser  *fakeBrowser
	cfg      *config.Config
	confirm  confirmFunc
	prompted int
	history  *fakeHistory
}

func newHarness(t *testing.T, setup func(*browsertest.Page)) *harness {
	t.Helper()
	// Keep ./config.yaml in the working directory out of the picture.
	t.Chdir(t.TempDir())
	return &harness{t: t, browser: &fakeBrowser{setup: setup}}
}

func (h *harness) factory(_ context.Context, cfg *config.Config, _ *zap.Logger) (*service.Engine, error) {
	h.cfg = cfg
	logger := zaptest.NewLogger(h.t)
	return service.NewEngine(cfg, service.BuildComponents(cfg, h.browser, logger), logger), nil
}

func (h *harness) openStore(_ context.Context, cfg config.DatabaseConfig, _ *zap.Logger) (historyStore, error) {
	if h.history == nil {
		return nil, errors.New("connection refused")
	}
	h.history.url = cfg.URL
	return h.history, nil
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	confirm := h.confirm
	if confirm == nil {
		confirm = func(context.Context, string) (bool, error) {
			h.t.Fatal("unexpected prompt")
			return false, nil
		}
	}
	counting := func(ctx context.Context, msg string) (bool, error) {
		h.prompted++
		return confirm(ctx, msg)
	}
	root := newRootCmd(&app{newEngine: h.factory, openStore: h.openStore, confirm: counting})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// submittable makes the contact form fillable and its button navigate.
func submittable(p *browsertest.Page) {
	p.AddElement("#email", "input", "email", "email")
	p.AddElement("#message", "textarea", "", "message")
	p.AddElement(`form[id="contact"] button[type="submit"]`, "button", "submit", "")
	p.Handle(scripts.ReadValue, func(args []interface{}) (interface{}, error) {
		if el := p.Element(args[0].(string)); el != nil {
			return el.Value, nil
		}
		return nil, nil
	})
	p.OnClick = func(p *browsertest.Page, selector string) error {
		if strings.Contains(selector, "button") {
			p.CurrentURL = "https://example.com/thank-you"
		}
		return nil
	}
}

func withManualCaptcha(p *browsertest.Page) {
	submittable(p)
	p.Returns(scripts.DetectCaptcha, schemas.CaptchaDetection{Present: true, Kind: schemas.CaptchaGeneric})
}

func TestRootCmd_VersionFlag(t *testing.T) {
	h := newHarness(t, nil)
	out, err := h.run("--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestVersionCmd(t *testing.T) {
	h := newHarness(t, nil)
	out, err := h.run("version")
	require.NoError(t, err)
	assert.Equal(t, "scalpel-forms "+Version+"\n", out)
	assert.Nil(t, h.cfg, "version does not build an engine")
}

func TestRootCmd_MissingConfigFile(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.run("--config", filepath.Join(t.TempDir(), "nope.yaml"), "extract", "https://example.com")
	assert.ErrorContains(t, err, "failed to initialize configuration")
}

func TestRootCmd_ConfigFileEnvAndFlags(t *testing.T) {
	h := newHarness(t, nil)
	cfgFile := writeTemp(t, "config.yaml", `
browser:
  concurrency: 7
cache:
  enabled: false
submission:
  max_field_attempts: 2
`)
	t.Setenv("SCALPEL_FORMS_SUBMISSION_SUBMIT_ATTEMPTS", "5")

	_, err := h.run("--config", cfgFile, "--headless=false", "--remote-url", "ws://127.0.0.1:9222", "extract", "https://example.com/contact")
	require.NoError(t, err)
	require.NotNil(t, h.cfg)
	assert.Equal(t, 7, h.cfg.Browser().Concurrency)
	assert.False(t, h.cfg.Cache().Enabled)
	assert.Equal(t, 2, h.cfg.Submission().MaxFieldAttempts)
	assert.Equal(t, 5, h.cfg.Submission().SubmitAttempts)
	assert.False(t, h.cfg.Browser().Headless)
	assert.Equal(t, "ws://127.0.0.1:9222", h.cfg.Browser().RemoteURL)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	h := newHarness(t, nil)
	cfgFile := writeTemp(t, "config.yaml", "browser:\n  concurrency: 0\n")
	_, err := h.run("--config", cfgFile, "extract", "https://example.com")
	assert.ErrorContains(t, err, "failed to load or validate config")
}

func TestExtract_RequiresURL(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.run("extract")
	assert.ErrorContains(t, err, "requires at least one url")
}

func TestExtract_SingleURL(t *testing.T) {
	h := newHarness(t, nil)
	out, err := h.run("extract", "https://example.com/contact")
	require.NoError(t, err)

	var forms []schemas.FormSchema
	require.NoError(t, json.Unmarshal([]byte(out), &forms))
	require.Len(t, forms, 1)
	assert.Equal(t, "https://example.com/send", forms[0].Action)
	_, ok := forms[0].Field("email")
	assert.True(t, ok)
	assert.True(t, h.browser.allClosed())
}

func TestExtract_HTMLFileNeedsNoBrowser(t *testing.T) {
	h := newHarness(t, nil)
	page := writeTemp(t, "contact.html", contactHTML)

	out, err := h.run("extract", "--html", page, "https://example.com/contact")
	require.NoError(t, err)

	var forms []schemas.FormSchema
	require.NoError(t, json.Unmarshal([]byte(out), &forms))
	require.Len(t, forms, 1)
	assert.Equal(t, "https://example.com/send", forms[0].Action)
	assert.Empty(t, h.browser.tabs)
}

func TestExtract_OutputFile(t *testing.T) {
	h := newHarness(t, nil)
	dest := filepath.Join(t.TempDir(), "forms.json")

	out, err := h.run("extract", "-o", dest, "https://example.com/contact")
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"email"`)
}

func TestExtract_Batch(t *testing.T) {
	h := newHarness(t, nil)
	out, err := h.run("extract", "https://example.com/a", "https://example.com/b")
	require.NoError(t, err)

	var results []service.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/a", results[0].URL)
	assert.Len(t, results[1].Forms, 1)
}

func TestExtract_InspectWithDeps(t *testing.T) {
	h := newHarness(t, func(p *browsertest.Page) {
		p.Returns(scripts.DetectCaptcha, schemas.CaptchaDetection{Present: true, Kind: schemas.CaptchaHCaptcha})
	})
	out, err := h.run("extract", "--inspect", "--deps", "https://example.com/contact")
	require.NoError(t, err)
	assert.True(t, h.cfg.Extraction().MapDependencies)

	var reports []schemas.PageReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, schemas.CaptchaHCaptcha, reports[0].Captcha.Kind)
}

func TestSubmit_RequiresValues(t *testing.T) {
	h := newHarness(t, submittable)
	_, err := h.run("submit", "https://example.com/contact")
	assert.ErrorContains(t, err, `"values" not set`)
}

func TestSubmit_YAMLValues(t *testing.T) {
	h := newHarness(t, submittable)
	values := writeTemp(t, "values.yaml", "email: ada@example.com\nmessage: hello\n")

	out, err := h.run("submit", "https://example.com/contact", "--values", values)
	require.NoError(t, err)

	var outcome schemas.SubmissionOutcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, schemas.StatusComplete, outcome.Status)
	assert.ElementsMatch(t, []string{"email", "message"}, outcome.FilledFields)
	assert.True(t, h.browser.allClosed())
}

func TestSubmit_SchemaFromExtractOutput(t *testing.T) {
	h := newHarness(t, submittable)
	forms, err := h.run("extract", "https://example.com/contact")
	require.NoError(t, err)
	schemaFile := writeTemp(t, "forms.json", forms)
	values := writeTemp(t, "values.json", `{"email": "ada@example.com"}`)

	out, err := h.run("submit", "https://example.com/contact", "-s", schemaFile, "-f", values)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "complete"`)

	_, err = h.run("submit", "https://example.com/contact", "-s", schemaFile, "-f", values, "--form-index", "4")
	assert.ErrorContains(t, err, "no form with index 4")
}

func TestSubmit_ManualCaptchaConfirmed(t *testing.T) {
	h := newHarness(t, withManualCaptcha)
	h.confirm = func(context.Context, string) (bool, error) { return true, nil }
	values := writeTemp(t, "values.yaml", "email: ada@example.com\n")

	out, err := h.run("--headless=false", "submit", "https://example.com/contact", "-f", values)
	require.NoError(t, err)
	assert.Equal(t, 1, h.prompted)
	assert.Contains(t, out, `"status": "complete"`)
	assert.True(t, h.browser.allClosed())
}

func TestSubmit_ManualCaptchaDeclined(t *testing.T) {
	h := newHarness(t, withManualCaptcha)
	h.confirm = func(context.Context, string) (bool, error) { return false, nil }
	values := writeTemp(t, "values.yaml", "email: ada@example.com\n")

	out, err := h.run("--headless=false", "submit", "https://example.com/contact", "-f", values)
	assert.ErrorIs(t, err, captcha.ErrManualRequired)
	assert.Contains(t, out, `"status": "captcha_required"`)
	assert.True(t, h.browser.allClosed())
}

func TestSubmit_ManualCaptchaHeadlessNeverPrompts(t *testing.T) {
	h := newHarness(t, withManualCaptcha)
	values := writeTemp(t, "values.yaml", "email: ada@example.com\n")

	_, err := h.run("submit", "https://example.com/contact", "-f", values)
	assert.ErrorIs(t, err, captcha.ErrManualRequired)
	assert.Zero(t, h.prompted)
	assert.True(t, h.browser.allClosed())
}

func TestLoadValues(t *testing.T) {
	path := writeTemp(t, "values.yaml", `
name: Ada
age: 36
subscribe: true
topics: [go, chrome]
ratings:
  speed: 5
  support: 4
`)
	values, err := loadValues(path)
	require.NoError(t, err)
	assert.Equal(t, schemas.Text("Ada"), values["name"])
	assert.Equal(t, schemas.Text("36"), values["age"])
	assert.Equal(t, schemas.Text("true"), values["subscribe"])
	assert.Equal(t, schemas.List("go", "chrome"), values["topics"])
	assert.Equal(t, schemas.Grid(map[string]string{"speed": "5", "support": "4"}), values["ratings"])

	bad := writeTemp(t, "bad.yaml", "nested:\n  - [a, b]\n")
	_, err = loadValues(bad)
	assert.ErrorContains(t, err, `field "nested"`)
}

func TestLoadSchema_Single(t *testing.T) {
	path := writeTemp(t, "form.json", `{"id": "contact", "formIndex": 2}`)
	form, err := loadSchema(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, form.FormIndex)
}

type fakeHistory struct {
	url     string
	records []store.SubmissionRecord
	closed  bool
	gotURL  string
	gotN    int
}

func (f *fakeHistory) ListSubmissions(_ context.Context, pageURL string, limit int) ([]store.SubmissionRecord, error) {
	f.gotURL, f.gotN = pageURL, limit
	return f.records, nil
}

func (f *fakeHistory) GetOutcome(_ context.Context, id string) (*schemas.SubmissionOutcome, error) {
	for _, r := range f.records {
		if r.ID == id {
			return &schemas.SubmissionOutcome{SubmissionID: id, Status: r.Status}, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeHistory) Close() { f.closed = true }

func TestHistory_RequiresDatabase(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.run("history")
	assert.ErrorContains(t, err, "database.url")
}

func TestHistory_List(t *testing.T) {
	h := newHarness(t, nil)
	h.history = &fakeHistory{records: []store.SubmissionRecord{
		{ID: "sub-1", URL: "https://example.com/contact", Status: schemas.StatusComplete, FillRate: 1},
	}}
	t.Setenv("SCALPEL_FORMS_DATABASE_URL", "postgres://forms@localhost/forms")

	out, err := h.run("history", "-n", "5", "https://example.com/contact")
	require.NoError(t, err)
	assert.Equal(t, "postgres://forms@localhost/forms", h.history.url)
	assert.Equal(t, "https://example.com/contact", h.history.gotURL)
	assert.Equal(t, 5, h.history.gotN)
	assert.True(t, h.history.closed)

	var records []store.SubmissionRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, schemas.StatusComplete, records[0].Status)
}

func TestHistory_ByID(t *testing.T) {
	h := newHarness(t, nil)
	h.history = &fakeHistory{records: []store.SubmissionRecord{{ID: "sub-9", Status: schemas.StatusSubmitFailed}}}
	t.Setenv("SCALPEL_FORMS_DATABASE_URL", "postgres://forms@localhost/forms")

	out, err := h.run("history", "--id", "sub-9")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "submit_failed"`)

	_, err = h.run("history", "--id", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHistory_ConnectError(t *testing.T) {
	h := newHarness(t, nil)
	t.Setenv("SCALPEL_FORMS_DATABASE_URL", "postgres://forms@localhost/forms")
	_, err := h.run("history")
	assert.ErrorContains(t, err, "connection refused")
}
