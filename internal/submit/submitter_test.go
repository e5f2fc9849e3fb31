package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/browsertest"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
	"github.com/xkilldash9x/scalpel-forms/internal/captcha"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

func testConfig() config.SubmissionConfig {
	return config.SubmissionConfig{
		MaxFieldAttempts:  3,
		SettleWait:        600 * time.Millisecond,
		RetryBackoff:      100 * time.Millisecond,
		SubmitAttempts:    3,
		SubmitBackoff:     500 * time.Millisecond,
		OutcomeWait:       2 * time.Second,
		HaltOnDynamic:     true,
		AutoConsent:       true,
		ConsentKeywords:   []string{"terms", "privacy", "agree"},
		MarketingKeywords: []string{"marketing", "newsletter"},
	}
}

func newSubmitter(t *testing.T, opts ...Option) *Submitter {
	return New(testConfig(), zaptest.NewLogger(t), opts...)
}

// newFormPage is a fake page whose value scripts read and write the fake's elements.
func newFormPage() *browsertest.Page {
	p := browsertest.New("https://example.com/contact")
	p.Handle(scripts.ReadValue, func(args []interface{}) (interface{}, error) {
		if el := p.Element(args[0].(string)); el != nil {
			return el.Value, nil
		}
		return nil, nil
	})
	p.Handle(scripts.InjectValue, func(args []interface{}) (interface{}, error) {
		el := p.Element(args[0].(string))
		if el == nil {
			return false, nil
		}
		el.Value = args[1].(string)
		return true, nil
	})
	p.Returns(scripts.VisibleFields, []visibleField{{Name: "email"}, {Name: "message"}})
	return p
}

func contactSchema() *schemas.FormSchema {
	return &schemas.FormSchema{
		ID: "contact",
		Fields: []schemas.FieldDescriptor{
			{Name: "email", Type: schemas.FieldEmail, Selector: "#email", Required: true},
			{Name: "message", Type: schemas.FieldTextarea, Selector: "#message"},
			{Name: "topic", Type: schemas.FieldSelect, Selector: "#topic"},
			{Name: "send", Type: schemas.FieldSubmit, Selector: "#send"},
		},
	}
}

func addContactElements(p *browsertest.Page) {
	p.AddElement("#email", "input", "email", "email")
	p.AddElement("#message", "textarea", "", "message")
	p.AddElement("#topic", "select", "", "topic")
	p.AddElement("#send", "button", "submit", "")
	p.Returns(scripts.SelectOptions, []nativeOption{
		{Value: "", Label: "Choose..."},
		{Value: "sales", Label: "Option 1: Sales"},
		{Value: "support", Label: "Support"},
	})
	p.OnClick = func(p *browsertest.Page, selector string) error {
		if selector == "#send" {
			p.CurrentURL = "https://example.com/contact/thanks"
		}
		return nil
	}
	p.Returns(scripts.PageSignals, pageSignals{URL: "https://example.com/contact/thanks", SuccessMatches: []string{"thank you"}})
}

func TestSubmit_Complete(t *testing.T) {
	page := newFormPage()
	addContactElements(page)
	page.AddElement("#terms", "input", "checkbox", "terms")
	page.AddElement("#news", "input", "checkbox", "news")
	page.Returns(scripts.ConsentCheckboxes, []consentBox{
		{Selector: "#terms", Name: "terms", Text: "i agree to the terms", Visible: true, Required: true},
		{Selector: "#news", Name: "news", Text: "i agree to receive the newsletter", Visible: true},
	})

	values := schemas.Values{
		"email":   schemas.Text("ada@example.com"),
		"message": schemas.Text("Hello there"),
		"topic":   schemas.Text("sales"),
		"unknown": schemas.Text("ignored"),
	}
	out, err := newSubmitter(t).Submit(context.Background(), page, contactSchema(), values)
	require.NoError(t, err)

	_, perr := uuid.Parse(out.SubmissionID)
	assert.NoError(t, perr)
	assert.Equal(t, schemas.StatusComplete, out.Status)
	assert.Equal(t, []string{"email", "message", "topic"}, out.FilledFields)
	assert.Empty(t, out.Errors)
	assert.Equal(t, 1.0, out.FillRate)
	assert.True(t, out.SubmitSuccess)
	require.NotNil(t, out.Validation)
	assert.True(t, out.Validation.LikelySuccess)
	assert.True(t, out.Validation.URLChanged)
	assert.True(t, out.Validation.URLKeyword)
	assert.Equal(t, []string{"terms"}, out.AutoChecked)
	assert.True(t, page.Element("#terms").Checked)
	assert.False(t, page.Element("#news").Checked, "marketing boxes stay unchecked")
	assert.Equal(t, "sales", page.Element("#topic").Value)

	for _, r := range out.FieldResults {
		assert.Equal(t, schemas.StateVerified, r.State, r.Field)
		assert.Equal(t, 1, r.Attempts, r.Field)
	}
	assert.Len(t, page.ActionsOf("network_idle"), 1)
}

func TestSubmit_RetriesThenInjects(t *testing.T) {
	page := newFormPage()
	addContactElements(page)
	page.FillErr["#email"] = errors.New("element detached")

	out, err := newSubmitter(t).Submit(context.Background(), page, contactSchema(), schemas.Values{"email": schemas.Text("ada@example.com")})
	require.NoError(t, err)
	require.Len(t, out.FieldResults, 1)
	res := out.FieldResults[0]
	assert.Equal(t, schemas.StateVerified, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, res.UsedInjection)
	assert.Equal(t, "ada@example.com", page.Element("#email").Value)

	var waits []string
	for _, a := range page.ActionsOf("wait") {
		waits = append(waits, a.Value)
	}
	assert.Equal(t, []string{"100ms", "200ms"}, waits[:2], "backoff grows per attempt")
}

func TestSubmit_VerificationMismatch(t *testing.T) {
	page := newFormPage()
	addContactElements(page)
	// The page rewrites whatever lands in the field.
	page.OnFill = func(p *browsertest.Page, selector, _ string) error {
		p.Element(selector).Value = "rewritten"
		return nil
	}
	page.Handle(scripts.InjectValue, func([]interface{}) (interface{}, error) { return true, nil })

	values := schemas.Values{"email": schemas.Text("ada@example.com"), "message": schemas.Text("hi")}
	out, err := newSubmitter(t).Submit(context.Background(), page, contactSchema(), values)
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusPartialSuccess, out.Status)
	assert.Empty(t, out.FilledFields)
	assert.Equal(t, 0.0, out.FillRate)
	require.Len(t, out.Errors, 2)
	assert.Equal(t, schemas.CodeVerificationMismatch, out.Errors[0].Code)
	res := out.FieldResults[0]
	assert.Equal(t, schemas.StateFailed, res.State)
	assert.True(t, res.Filled)
	assert.False(t, res.Verified)
	assert.Equal(t, 3, res.Attempts)
}

func TestSubmit_FillRateCountsSuppliedFields(t *testing.T) {
	page := newFormPage()
	addContactElements(page)
	values := schemas.Values{
		"email": schemas.Text("ada@example.com"),
		"topic": schemas.Text("nothing like it"),
	}
	out, err := newSubmitter(t).Submit(context.Background(), page, contactSchema(), values)
	require.NoError(t, err)
	assert.Equal(t, 0.5, out.FillRate)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "topic", out.Errors[0].Field)
	assert.Equal(t, schemas.CodeUnsupportedValue, out.Errors[0].Code)
}

func TestSubmit_DynamicFieldHalt(t *testing.T) {
	page := newFormPage()
	addContactElements(page)
	page.AddElement(`input[name="contact_by"][value="email"]`, "input", "radio", "contact_by")
	page.AddElement(`input[name="contact_by"][value="phone"]`, "input", "radio", "contact_by")
	page.Handle(scripts.VisibleFields, func([]interface{}) (interface{}, error) {
		fields := []visibleField{{Name: "email"}, {Name: "message"}, {Name: "topic", Type: "select"}, {Name: "contact_by", Type: "radio"}}
		if page.Element(`input[name="contact_by"][value="phone"]`).Checked {
			fields = append(fields, visibleField{Name: "phone_number", Type: "tel", Label: "Phone"})
		}
		if page.Element("#topic").Value == "support" {
			fields = append(fields, visibleField{Name: "order_number", Type: "text", Label: "Order number"})
		}
		return fields, nil
	})

	schema := contactSchema()
	schema.Fields = append([]schemas.FieldDescriptor{{
		Name: "contact_by", Type: schemas.FieldRadio,
		Options: []schemas.Option{{Value: "email", Label: "Email"}, {Value: "phone", Label: "Phone"}},
	}}, schema.Fields...)

	values := schemas.Values{
		"contact_by": schemas.Text("Phone"),
		"email":      schemas.Text("ada@example.com"),
		"message":    schemas.Text("Where is my parcel?"),
		"topic":      schemas.Text("Support"),
	}
	out, err := newSubmitter(t).Submit(context.Background(), page, schema, values)
	require.ErrorIs(t, err, ErrDynamicFieldHalt)

	assert.Equal(t, schemas.StatusPartialSuccess, out.Status)
	assert.Equal(t, []schemas.DynamicFieldEvent{
		{Name: "phone_number", InferredType: schemas.FieldTel, Label: "Phone", TriggeredBy: "contact_by"},
		{Name: "order_number", InferredType: schemas.FieldText, Label: "Order number", TriggeredBy: "topic"},
	}, out.DynamicFieldsDetected)
	assert.Equal(t, []string{"contact_by", "email", "message", "topic"}, out.FilledFields, "every supplied field is filled before halting")
	assert.Equal(t, 1.0, out.FillRate)
	assert.Equal(t, "Where is my parcel?", page.Element("#message").Value)
	assert.False(t, out.SubmitSuccess)
	for _, a := range page.ActionsOf("click") {
		assert.NotEqual(t, "#send", a.Selector, "no submit after a halt")
	}
}

func TestSubmit_DynamicFieldWithSuppliedValueDoesNotHalt(t *testing.T) {
	page := newFormPage()
	addContactElements(page)
	page.AddElement("#subscribe", "input", "checkbox", "subscribe")
	page.Handle(scripts.VisibleFields, func([]interface{}) (interface{}, error) {
		fields := []visibleField{{Name: "email"}, {Name: "subscribe"}}
		if page.Element("#subscribe").Checked {
			fields = append(fields, visibleField{Name: "frequency", Type: "select"})
		}
		return fields, nil
	})
	schema := contactSchema()
	schema.Fields = append(schema.Fields, schemas.FieldDescriptor{Name: "subscribe", Type: schemas.FieldCheckbox, Selector: "#subscribe"})

	values := schemas.Values{"subscribe": schemas.Text("yes"), "frequency": schemas.Text("weekly")}
	out, err := newSubmitter(t).Submit(context.Background(), page, schema, values)
	require.NoError(t, err)
	assert.Empty(t, out.DynamicFieldsDetected)
	assert.Equal(t, schemas.StatusComplete, out.Status)
}

type stubDetector struct{ det schemas.CaptchaDetection }

func (s stubDetector) DetectCaptcha(context.Context, browser.Page) (schemas.CaptchaDetection, error) {
	return s.det, nil
}

type stubSolver struct {
	err   error
	calls int
}

func (s *stubSolver) Solve(context.Context, browser.Page, schemas.CaptchaDetection) (captcha.Result, error) {
	s.calls++
	return captcha.Result{}, s.err
}

func TestSubmit_CaptchaRequired(t *testing.T) {
	det := schemas.CaptchaDetection{Present: true, Kind: schemas.CaptchaHCaptcha, SelectorHint: ".h-captcha"}
	solver := &stubSolver{err: captcha.ErrManualRequired}
	page := newFormPage()
	addContactElements(page)

	out, err := newSubmitter(t, WithCaptcha(stubDetector{det}, solver)).
		Submit(context.Background(), page, contactSchema(), schemas.Values{"email": schemas.Text("ada@example.com")})
	require.ErrorIs(t, err, captcha.ErrManualRequired)
	assert.Equal(t, 1, solver.calls)
	assert.Equal(t, schemas.StatusCaptchaRequired, out.Status)
	assert.True(t, out.SessionLeftOpen)
	require.NotNil(t, out.Captcha)
	assert.Equal(t, schemas.CaptchaHCaptcha, out.Captcha.Kind)
	assert.Equal(t, []string{"email"}, out.FilledFields)
	assert.Empty(t, page.ActionsOf("network_idle"), "nothing was submitted")
}

func TestSubmit_CaptchaWithoutSolver(t *testing.T) {
	det := schemas.CaptchaDetection{Present: true, Kind: schemas.CaptchaGeneric}
	page := newFormPage()
	addContactElements(page)

	out, err := newSubmitter(t, WithCaptcha(stubDetector{det}, nil)).
		Submit(context.Background(), page, contactSchema(), schemas.Values{})
	require.ErrorIs(t, err, captcha.ErrManualRequired)
	assert.Equal(t, schemas.StatusCaptchaRequired, out.Status)
}

func TestSubmit_CaptchaSolved(t *testing.T) {
	det := schemas.CaptchaDetection{Present: true, Kind: schemas.CaptchaTurnstile, Invisible: true}
	page := newFormPage()
	addContactElements(page)

	out, err := newSubmitter(t, WithCaptcha(stubDetector{det}, &stubSolver{})).
		Submit(context.Background(), page, contactSchema(), schemas.Values{"email": schemas.Text("a@b.co")})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusComplete, out.Status)
	assert.False(t, out.SessionLeftOpen)
}

func TestSubmit_SubmitNotFound(t *testing.T) {
	page := newFormPage()
	page.AddElement("#email", "input", "email", "email")
	schema := &schemas.FormSchema{Fields: []schemas.FieldDescriptor{{Name: "email", Type: schemas.FieldEmail, Selector: "#email"}}}

	out, err := newSubmitter(t).Submit(context.Background(), page, schema, schemas.Values{"email": schemas.Text("a@b.co")})
	require.ErrorIs(t, err, ErrSubmitNotFound)
	assert.Equal(t, schemas.StatusSubmitFailed, out.Status)
	assert.Equal(t, schemas.CodeSubmitNotFound, out.Errors[len(out.Errors)-1].Code)
	assert.Equal(t, 3, page.EvaluatedCount(scripts.FormEnterTarget), "three submit attempts")
}

func TestSubmit_EnterFallback(t *testing.T) {
	page := newFormPage()
	page.AddElement("#email", "input", "email", "email")
	page.Returns(scripts.FormEnterTarget, "#email")
	schema := &schemas.FormSchema{Fields: []schemas.FieldDescriptor{{Name: "email", Type: schemas.FieldEmail, Selector: "#email"}}}

	_, err := newSubmitter(t).Submit(context.Background(), page, schema, schemas.Values{"email": schemas.Text("a@b.co")})
	require.NoError(t, err)
	presses := page.ActionsOf("press")
	require.Len(t, presses, 1)
	assert.Equal(t, browsertest.Action{Kind: "press", Selector: "#email", Value: "Enter"}, presses[0])
}

func TestSubmit_GenericSubmitSelector(t *testing.T) {
	page := newFormPage()
	page.AddElement("#email", "input", "email", "email")
	page.AddElement(`form[id="contact"] button[type="submit"]`, "button", "submit", "")
	schema := &schemas.FormSchema{ID: "contact", Fields: []schemas.FieldDescriptor{{Name: "email", Type: schemas.FieldEmail, Selector: "#email"}}}

	_, err := newSubmitter(t).Submit(context.Background(), page, schema, schemas.Values{"email": schemas.Text("a@b.co")})
	require.NoError(t, err)
	clicks := page.ActionsOf("click")
	assert.Equal(t, `form[id="contact"] button[type="submit"]`, clicks[len(clicks)-1].Selector)
}

func TestSubmit_InlineErrorsMeanFailure(t *testing.T) {
	page := newFormPage()
	addContactElements(page)
	page.Returns(scripts.PageSignals, pageSignals{URL: "https://example.com/contact", SuccessMatches: []string{"thank you"}, InlineErrors: 2})

	out, err := newSubmitter(t).Submit(context.Background(), page, contactSchema(), schemas.Values{"email": schemas.Text("a@b.co")})
	require.NoError(t, err)
	assert.False(t, out.SubmitSuccess)
	assert.Equal(t, schemas.StatusSubmitFailed, out.Status)
	assert.True(t, out.Validation.LikelyError)
	assert.False(t, out.Validation.LikelySuccess)
}

func TestSubmit_PasswordConfirmationSynced(t *testing.T) {
	page := newFormPage()
	page.AddElement("#pw", "input", "password", "password")
	page.AddElement("#pw2", "input", "password", "confirm_password")
	page.AddElement("#go", "button", "submit", "")
	schema := &schemas.FormSchema{Fields: []schemas.FieldDescriptor{
		{Name: "password", Type: schemas.FieldPassword, Selector: "#pw"},
		{Name: "confirm_password", Type: schemas.FieldPassword, Selector: "#pw2"},
		{Name: "go", Type: schemas.FieldSubmit, Selector: "#go"},
	}}

	out, err := newSubmitter(t).Submit(context.Background(), page, schema, schemas.Values{
		"password":         schemas.Text("s3cret!"),
		"confirm_password": schemas.Text("typo"),
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cret!", page.Element("#pw2").Value)
	assert.Equal(t, []string{"password", "confirm_password"}, out.FilledFields)
}

func TestSubmit_Canceled(t *testing.T) {
	page := newFormPage()
	addContactElements(page)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newSubmitter(t).Submit(ctx, page, contactSchema(), schemas.Values{"email": schemas.Text("a@b.co")})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, schemas.StatusSubmitFailed, out.Status)
	assert.Equal(t, schemas.CodeCanceled, out.Errors[0].Code)
	assert.Empty(t, page.ActionsOf("fill"))
}

func TestSubmit_NilSchema(t *testing.T) {
	out, err := newSubmitter(t).Submit(context.Background(), newFormPage(), nil, nil)
	assert.Error(t, err)
	assert.Nil(t, out)
}

func TestSubmit_ResumeAfterManualCaptcha(t *testing.T) {
	det := schemas.CaptchaDetection{Present: true, Kind: schemas.CaptchaRecaptcha}
	page := newFormPage()
	addContactElements(page)
	sub := newSubmitter(t, WithCaptcha(stubDetector{det}, &stubSolver{err: captcha.ErrManualRequired}))
	schema := contactSchema()

	out, err := sub.Submit(context.Background(), page, schema, schemas.Values{"email": schemas.Text("a@b.co")})
	require.ErrorIs(t, err, captcha.ErrManualRequired)
	fills := len(page.ActionsOf("fill"))

	out, err = sub.Resume(context.Background(), page, schema, out)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusComplete, out.Status)
	assert.False(t, out.SessionLeftOpen)
	assert.Empty(t, out.Errors)
	assert.True(t, out.SubmitSuccess)
	assert.Len(t, page.ActionsOf("fill"), fills, "fields are not refilled")

	_, err = sub.Resume(context.Background(), page, schema, out)
	assert.Error(t, err, "only captcha_required submissions resume")
}
