package schemas

// -- CAPTCHA --

// CaptchaKind names a CAPTCHA family in detection priority order.
type CaptchaKind string

const (
	CaptchaNone      CaptchaKind = "none"
	CaptchaRecaptcha CaptchaKind = "recaptcha"
	CaptchaHCaptcha  CaptchaKind = "hcaptcha"
	CaptchaTurnstile CaptchaKind = "turnstile"
	CaptchaGeneric   CaptchaKind = "generic"
	CaptchaIframe    CaptchaKind = "iframe"
)

// CaptchaDetection is the result of probing a page for a CAPTCHA.
type CaptchaDetection struct {
	Present      bool        `json:"present"`
	Kind         CaptchaKind `json:"kind"`
	SelectorHint string      `json:"selectorHint,omitempty"`
	Invisible    bool        `json:"invisible,omitempty"`
	SiteKey      string      `json:"siteKey,omitempty"`
}

// NoCaptcha is the zero detection.
var NoCaptcha = CaptchaDetection{Kind: CaptchaNone}

// -- Submission --

// DynamicFieldEvent reports a field that appeared as a consequence of filling another.
type DynamicFieldEvent struct {
	Name         string    `json:"name"`
	InferredType FieldType `json:"inferredType"`
	Label        string    `json:"label,omitempty"`
	TriggeredBy  string    `json:"triggeredBy"`
}

// FieldState is the per field fill state machine.
type FieldState string

const (
	StatePending    FieldState = "pending"
	StateAttempting FieldState = "attempting"
	StateVerified   FieldState = "verified"
	StateFailed     FieldState = "failed"
)

// FillAttemptResult is the terminal record for one field.
type FillAttemptResult struct {
	Field         string     `json:"field"`
	State         FieldState `json:"state"`
	Filled        bool       `json:"filled"`
	Verified      bool       `json:"verified"`
	Attempts      int        `json:"attempts"`
	UsedInjection bool       `json:"usedInjection,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// SubmissionStatus is the coarse outcome of a Submit call.
type SubmissionStatus string

const (
	StatusComplete        SubmissionStatus = "complete"
	StatusPartialSuccess  SubmissionStatus = "partial_success"
	StatusSubmitFailed    SubmissionStatus = "submit_failed"
	StatusCaptchaRequired SubmissionStatus = "captcha_required"
)

// ValidationResult is the post-submit page classification.
type ValidationResult struct {
	LikelySuccess        bool     `json:"likelySuccess"`
	LikelyError          bool     `json:"likelyError"`
	URLChanged           bool     `json:"urlChanged"`
	SuccessText          bool     `json:"successText"`
	ErrorText            bool     `json:"errorText"`
	InlineErrors         bool     `json:"inlineErrors"`
	URLKeyword           bool     `json:"urlKeyword"`
	ProviderConfirmation bool     `json:"providerConfirmation"`
	FinalURL             string   `json:"finalUrl,omitempty"`
	MatchedKeywords      []string `json:"matchedKeywords,omitempty"`
}

// FieldError pairs a field with a coded failure.
type FieldError struct {
	Field   string    `json:"field,omitempty"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// SubmissionOutcome is everything a Submit call reports back.
type SubmissionOutcome struct {
	SubmissionID          string              `json:"submissionId"`
	Status                SubmissionStatus    `json:"status"`
	FilledFields          []string            `json:"filledFields"`
	AutoChecked           []string            `json:"autoChecked,omitempty"`
	Errors                []FieldError        `json:"errors"`
	FillRate              float64             `json:"fillRate"`
	DynamicFieldsDetected []DynamicFieldEvent `json:"dynamicFieldsDetected"`
	SubmitSuccess         bool                `json:"submitSuccess"`
	Validation            *ValidationResult   `json:"validation,omitempty"`
	FieldResults          []FillAttemptResult `json:"fieldResults,omitempty"`
	Captcha               *CaptchaDetection   `json:"captcha,omitempty"`
	SessionLeftOpen       bool                `json:"sessionLeftOpen,omitempty"`
}

// ErrorCode classifies failures carried in an outcome.
type ErrorCode string

const (
	CodeElementNotFound       ErrorCode = "ELEMENT_NOT_FOUND"
	CodeVerificationMismatch  ErrorCode = "VERIFICATION_MISMATCH"
	CodeDynamicFieldHalt      ErrorCode = "DYNAMIC_FIELD_HALT"
	CodeCaptchaManualRequired ErrorCode = "CAPTCHA_MANUAL_REQUIRED"
	CodeSubmitNotFound        ErrorCode = "SUBMIT_NOT_FOUND"
	CodeUnsupportedValue      ErrorCode = "UNSUPPORTED_VALUE"
	CodeCanceled              ErrorCode = "CANCELED"
	CodeBrowserError          ErrorCode = "BROWSER_ERROR"
)
