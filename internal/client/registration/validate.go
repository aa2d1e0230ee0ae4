package registration

import (
	"slices"
	"strings"

	"github.com/atinyakov/CargoDesk/internal/models"
	"github.com/atinyakov/CargoDesk/internal/validate"
)

// Form field names.
const (
	FieldFirstName        = "firstName"
	FieldLastName         = "lastName"
	FieldUsername         = "username"
	FieldEmail            = "email"
	FieldPhone            = "phone"
	FieldPassword         = "password"
	FieldConfirmPassword  = "confirmPassword"
	FieldCompanyName      = "companyName"
	FieldOrganizationType = "organizationType"
	FieldActivityType     = "activityType"
	FieldLanguage         = "language"

	CheckTerms       = "acceptTerms"
	CheckPublicOffer = "acceptPublicOffer"
)

// RequiredFields lists the text fields each role must fill, in form order.
var RequiredFields = map[models.UserType][]string{
	models.Client: {FieldFirstName, FieldLastName, FieldUsername, FieldEmail, FieldPhone, FieldPassword, FieldConfirmPassword},
	models.Agent:  {FieldFirstName, FieldLastName, FieldUsername, FieldEmail, FieldPhone, FieldOrganizationType, FieldActivityType},
}

// RequiredChecks lists the acceptance checkboxes each role must tick.
var RequiredChecks = map[models.UserType][]string{
	models.Client: {CheckTerms},
	models.Agent:  {CheckTerms, CheckPublicOffer},
}

// Validate returns field -> message for every problem in the form of role.
// An empty map means the form may be submitted.
func Validate(role models.UserType, values map[string]string, checks map[string]bool) map[string]string {
	errs := map[string]string{}
	fields, ok := RequiredFields[role]
	if !ok {
		errs["role"] = "choose client or agent"
		return errs
	}

	for _, f := range fields {
		if strings.TrimSpace(values[f]) == "" {
			errs[f] = "this field is required"
		}
	}
	for _, c := range RequiredChecks[role] {
		if !checks[c] {
			errs[c] = "you must accept to continue"
		}
	}

	if v := values[FieldEmail]; v != "" && !validate.Email(strings.TrimSpace(v)) {
		errs[FieldEmail] = "enter a valid email address"
	}
	if v := values[FieldUsername]; v != "" && !validate.Username(strings.TrimSpace(v)) {
		errs[FieldUsername] = "3 to 32 letters, digits, dots, dashes or underscores"
	}
	if v := values[FieldPhone]; v != "" && !validate.Phone(v) {
		errs[FieldPhone] = "enter a phone number with country code"
	}

	switch role {
	case models.Client:
		pw, confirm := values[FieldPassword], values[FieldConfirmPassword]
		if pw != "" && confirm != "" {
			if field, msg := validate.Password(pw, confirm); field != "" {
				errs[field] = msg
			}
		} else if pw != "" && !validate.PasswordLong(pw) {
			errs[FieldPassword] = "password must be at least 6 characters"
		}
	case models.Agent:
		if v := values[FieldOrganizationType]; v != "" && !slices.Contains(models.OrganizationTypes, v) {
			errs[FieldOrganizationType] = "unknown organization type"
		}
		if v := values[FieldActivityType]; v != "" && !slices.Contains(models.ActivityTypes, v) {
			errs[FieldActivityType] = "unknown activity type"
		}
	}
	return errs
}
