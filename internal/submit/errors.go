package submit

import (
	"context"
	"errors"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/captcha"
)

var (
	// ErrVerificationMismatch means the value read back from the page does not match what was filled.
	ErrVerificationMismatch = errors.New("verification mismatch")
	// ErrDynamicFieldHalt stops a submission when filling revealed fields nobody supplied values for.
	ErrDynamicFieldHalt = errors.New("new fields appeared while filling")
	// ErrSubmitNotFound means no submit control could be clicked and Enter had nowhere to go.
	ErrSubmitNotFound = errors.New("no submit control found")
	// ErrNoOptionMatch means none of a choice field's options matches the supplied value.
	ErrNoOptionMatch = errors.New("no option matches value")
	// ErrUnsupportedValue means the value cannot be applied to the field's type.
	ErrUnsupportedValue = errors.New("unsupported value for field type")
)

// codeFor maps an error onto the code carried in an outcome.
func codeFor(err error) schemas.ErrorCode {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return schemas.CodeCanceled
	case errors.Is(err, browser.ErrElementNotFound):
		return schemas.CodeElementNotFound
	case errors.Is(err, ErrVerificationMismatch):
		return schemas.CodeVerificationMismatch
	case errors.Is(err, ErrDynamicFieldHalt):
		return schemas.CodeDynamicFieldHalt
	case errors.Is(err, ErrSubmitNotFound):
		return schemas.CodeSubmitNotFound
	case errors.Is(err, captcha.ErrManualRequired):
		return schemas.CodeCaptchaManualRequired
	case errors.Is(err, ErrNoOptionMatch), errors.Is(err, ErrUnsupportedValue):
		return schemas.CodeUnsupportedValue
	}
	return schemas.CodeBrowserError
}

// retryable reports whether another attempt could change the result.
func retryable(err error) bool {
	return !errors.Is(err, ErrUnsupportedValue) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
