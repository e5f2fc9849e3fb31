package enrich

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

// Purposes a field can be classified as. Unmatched fields get PurposeOther.
const (
	PurposeEmail           = "email"
	PurposePhone           = "phone"
	PurposeFirstName       = "first_name"
	PurposeLastName        = "last_name"
	PurposeFullName        = "full_name"
	PurposeUsername        = "username"
	PurposePassword        = "password"
	PurposePasswordConfirm = "password_confirm"
	PurposeCompany         = "company"
	PurposeJobTitle        = "job_title"
	PurposeAddress         = "address"
	PurposeCity            = "city"
	PurposeState           = "state"
	PurposePostalCode      = "postal_code"
	PurposeCountry         = "country"
	PurposeWebsite         = "website"
	PurposeBirthDate       = "birth_date"
	PurposeGender          = "gender"
	PurposeSubject         = "subject"
	PurposeMessage         = "message"
	PurposeConsent         = "consent"
	PurposeNewsletter      = "newsletter"
	PurposeOther           = "other"
)

type purposePattern struct {
	purpose string
	re      *regexp.Regexp
}

// Order matters: the first match wins, so narrower patterns come first.
var purposePatterns = []purposePattern{
	{PurposePasswordConfirm, regexp.MustCompile(`(confirm|repeat|retype|re-enter|verify|again).{0,12}(pass|pwd)|(pass|pwd).{0,12}(confirm|repeat|again|2\b)`)},
	{PurposePassword, regexp.MustCompile(`pass(word)?|pwd|passcode`)},
	{PurposeEmail, regexp.MustCompile(`e-?mail|courriel`)},
	{PurposePhone, regexp.MustCompile(`phone|mobile|\btel\b|cell|telephone|whatsapp`)},
	{PurposeFirstName, regexp.MustCompile(`first.?name|given.?name|\bfname\b|forename|prenom`)},
	{PurposeLastName, regexp.MustCompile(`last.?name|sur.?name|family.?name|\blname\b`)},
	{PurposeUsername, regexp.MustCompile(`user.?name|login.?id|\bhandle\b|screen.?name`)},
	{PurposeCompany, regexp.MustCompile(`company|organi[sz]ation|employer|business.?name|\borg\b`)},
	{PurposeJobTitle, regexp.MustCompile(`job.?title|position|\brole\b|occupation`)},
	{PurposeWebsite, regexp.MustCompile(`website|homepage|\burl\b|web.?site`)},
	{PurposePostalCode, regexp.MustCompile(`zip|postal|post.?code|postcode`)},
	{PurposeCity, regexp.MustCompile(`\bcity\b|town|locality`)},
	{PurposeState, regexp.MustCompile(`\bstate\b|province|region|county`)},
	{PurposeCountry, regexp.MustCompile(`country|nation`)},
	{PurposeAddress, regexp.MustCompile(`address|street|addr`)},
	{PurposeBirthDate, regexp.MustCompile(`birth|\bdob\b|bday`)},
	{PurposeGender, regexp.MustCompile(`gender|\bsex\b|pronoun`)},
	{PurposeNewsletter, regexp.MustCompile(`newsletter|subscribe|marketing|updates`)},
	{PurposeConsent, regexp.MustCompile(`terms|privacy|consent|agree|accept|gdpr|policy`)},
	{PurposeSubject, regexp.MustCompile(`subject|topic|\btitle\b`)},
	{PurposeMessage, regexp.MustCompile(`message|comment|enquiry|inquiry|question|details|description|\bmsg\b`)},
	{PurposeFullName, regexp.MustCompile(`full.?name|your.?name|\bname\b`)},
}

// Purpose classifies a field by matching keyword patterns against its name,
// label and placeholder. The input type decides when the text is silent.
func Purpose(f schemas.FieldDescriptor) string {
	text := purposeText(f)
	for _, p := range purposePatterns {
		if p.re.MatchString(text) {
			return p.purpose
		}
	}
	switch f.Type {
	case schemas.FieldEmail:
		return PurposeEmail
	case schemas.FieldTel:
		return PurposePhone
	case schemas.FieldPassword:
		return PurposePassword
	case schemas.FieldURL:
		return PurposeWebsite
	case schemas.FieldTextarea, schemas.FieldRichText:
		return PurposeMessage
	}
	return PurposeOther
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// purposeText joins the descriptive attributes into one lowercase string with
// camelCase and snake_case split into words.
func purposeText(f schemas.FieldDescriptor) string {
	parts := []string{f.Name, f.Label, f.Placeholder}
	for i, p := range parts {
		p = camelBoundary.ReplaceAllString(p, "$1 $2")
		parts[i] = strings.NewReplacer("_", " ", "[", " ", "]", " ").Replace(p)
	}
	return strings.ToLower(strings.Join(parts, " "))
}
