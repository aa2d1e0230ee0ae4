// Package registration drives the sign-up wizard: role choice, the
// role-specific form, submission, and the terminal "check your email" or
// "awaiting activation" outcome. The wizard never authenticates the session.
package registration

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"

	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/atinyakov/CargoDesk/internal/models"
	"go.uber.org/zap"
)

// Step is the wizard state.
type Step int

const (
	RoleSelect Step = iota
	FormEntry
	Submitting
	// Done: a client account was created and awaits email verification.
	Done
	// PendingActivation: an agent account was created without credentials;
	// it is activated, and its password set, out of band.
	PendingActivation
)

func (s Step) String() string {
	switch s {
	case FormEntry:
		return "form"
	case Submitting:
		return "submitting"
	case Done:
		return "done"
	case PendingActivation:
		return "pending-activation"
	}
	return "role"
}

// Terminal reports whether the wizard has finished.
func (s Step) Terminal() bool { return s == Done || s == PendingActivation }

var (
	// ErrBusy is returned while a submission is in flight.
	ErrBusy = errors.New("registration already in progress")
	// ErrNoRole is returned by ConfirmRole before a role was chosen.
	ErrNoRole = errors.New("choose a role first")
	// ErrWrongStep is returned for a transition the current step does not allow.
	ErrWrongStep = errors.New("not allowed at this step")
	// ErrInvalid is returned by Submit when client-side validation fails;
	// details are in Draft().ValidationErrors.
	ErrInvalid = errors.New("form has errors")
)

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, req models.RegisterRequest) (models.User, error)
}

// Draft is a copy of the wizard state.
type Draft struct {
	Step             Step
	Role             models.UserType
	Values           map[string]string
	Checks           map[string]bool
	ValidationErrors map[string]string
	GeneralError     string
	// User is the created account once the wizard is terminal.
	User *models.User
}

// Flow is one open wizard. It is safe for concurrent use; only one
// submission may be in flight.
type Flow struct {
	reg      Registrar
	log      *zap.Logger
	language string

	mu    sync.Mutex
	draft Draft
}

// NewFlow opens a wizard at RoleSelect. language is sent with the request.
func NewFlow(reg Registrar, language string, log *zap.Logger) *Flow {
	if log == nil {
		log = zap.NewNop()
	}
	if language == "" {
		language = "en"
	}
	return &Flow{
		reg:      reg,
		log:      log,
		language: language,
		draft: Draft{
			Step:             RoleSelect,
			Values:           map[string]string{},
			Checks:           map[string]bool{},
			ValidationErrors: map[string]string{},
		},
	}
}

// Draft returns a copy of the wizard state.
func (f *Flow) Draft() Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.draft
	d.Values = maps.Clone(f.draft.Values)
	d.Checks = maps.Clone(f.draft.Checks)
	d.ValidationErrors = maps.Clone(f.draft.ValidationErrors)
	if f.draft.User != nil {
		u := *f.draft.User
		d.User = &u
	}
	return d
}

// SelectRole provisionally picks a role; the step does not change.
func (f *Flow) SelectRole(role models.UserType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draft.Step != RoleSelect {
		return ErrWrongStep
	}
	if role != models.Client && role != models.Agent {
		return autherr.Field(autherr.Validation, "role", "choose client or agent")
	}
	f.draft.Role = role
	return nil
}

// ConfirmRole advances to FormEntry once a role is selected.
func (f *Flow) ConfirmRole() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draft.Step != RoleSelect {
		return ErrWrongStep
	}
	if f.draft.Role == "" {
		return ErrNoRole
	}
	f.draft.Step = FormEntry
	return nil
}

// Back returns to RoleSelect, dropping the role but keeping typed values.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draft.Step != FormEntry {
		return ErrWrongStep
	}
	f.draft.Step = RoleSelect
	f.draft.Role = ""
	f.draft.ValidationErrors = map[string]string{}
	f.draft.GeneralError = ""
	return nil
}

// SetValue records a text field and clears its error.
func (f *Flow) SetValue(field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draft.Step != FormEntry {
		return ErrWrongStep
	}
	f.draft.Values[field] = value
	delete(f.draft.ValidationErrors, field)
	return nil
}

// SetCheck records an acceptance checkbox and clears its error.
func (f *Flow) SetCheck(name string, checked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draft.Step != FormEntry {
		return ErrWrongStep
	}
	f.draft.Checks[name] = checked
	delete(f.draft.ValidationErrors, name)
	return nil
}

// Submit validates the form and, if it is clean, registers the account.
// Validation failures never reach the network. Backend failures return the
// wizard to FormEntry with the error attached to a field or the banner; the
// error is also returned.
func (f *Flow) Submit(ctx context.Context) error {
	f.mu.Lock()
	switch f.draft.Step {
	case Submitting:
		f.mu.Unlock()
		return ErrBusy
	case FormEntry:
	default:
		f.mu.Unlock()
		return ErrWrongStep
	}

	errs := Validate(f.draft.Role, f.draft.Values, f.draft.Checks)
	f.draft.ValidationErrors = errs
	f.draft.GeneralError = ""
	if len(errs) > 0 {
		f.mu.Unlock()
		return ErrInvalid
	}
	req := f.requestLocked()
	f.draft.Step = Submitting
	f.mu.Unlock()

	user, err := f.reg.Register(ctx, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.draft.Step = FormEntry
		f.applyFailureLocked(err)
		f.log.Info("registration rejected", zap.String("kind", autherr.KindOf(err).String()))
		return err
	}

	f.draft.User = &user
	if f.draft.Role == models.Agent {
		f.draft.Step = PendingActivation
	} else {
		f.draft.Step = Done
	}
	return nil
}

func (f *Flow) applyFailureLocked(err error) {
	switch autherr.KindOf(err) {
	case autherr.DuplicateEmail:
		f.draft.ValidationErrors[FieldEmail] = "this email is already registered"
	case autherr.DuplicateUsername:
		f.draft.ValidationErrors[FieldUsername] = "this username is taken"
	case autherr.Validation:
		if field := autherr.FieldOf(err); field != "" {
			f.draft.ValidationErrors[field] = messageOf(err)
			return
		}
		f.draft.GeneralError = messageOf(err)
	case autherr.Transport:
		f.draft.GeneralError = "could not reach the server, please try again"
	default:
		f.draft.GeneralError = messageOf(err)
	}
}

func (f *Flow) requestLocked() models.RegisterRequest {
	v := func(k string) string { return strings.TrimSpace(f.draft.Values[k]) }
	req := models.RegisterRequest{
		UserType:    f.draft.Role,
		FirstName:   v(FieldFirstName),
		LastName:    v(FieldLastName),
		Username:    v(FieldUsername),
		Email:       v(FieldEmail),
		Phone:       v(FieldPhone),
		CompanyName: v(FieldCompanyName),
		Language:    f.language,
	}
	if lang := v(FieldLanguage); lang != "" {
		req.Language = lang
	}
	switch f.draft.Role {
	case models.Client:
		req.Password = f.draft.Values[FieldPassword]
		req.ConfirmPassword = f.draft.Values[FieldConfirmPassword]
	case models.Agent:
		req.OrganizationType = v(FieldOrganizationType)
		req.ActivityType = v(FieldActivityType)
	}
	return req
}

func messageOf(err error) string {
	var ae *autherr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}
