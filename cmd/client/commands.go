package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/atinyakov/CargoDesk/internal/autherr"
	"github.com/atinyakov/CargoDesk/internal/client/guard"
	"github.com/atinyakov/CargoDesk/internal/client/registration"
	"github.com/atinyakov/CargoDesk/internal/client/reset"
	"github.com/atinyakov/CargoDesk/internal/client/session"
	"github.com/atinyakov/CargoDesk/internal/models"
	"github.com/urfave/cli/v2"
)

var fieldLabels = map[string]string{
	registration.FieldFirstName:        "First name",
	registration.FieldLastName:         "Last name",
	registration.FieldUsername:         "Username",
	registration.FieldEmail:            "Email",
	registration.FieldPhone:            "Phone",
	registration.FieldPassword:         "Password",
	registration.FieldConfirmPassword:  "Confirm password",
	registration.FieldCompanyName:      "Company name (optional)",
	registration.FieldOrganizationType: "Organization type",
	registration.FieldActivityType:     "Activity type",
	registration.CheckTerms:            "I accept the terms of service",
	registration.CheckPublicOffer:      "I accept the public offer",
}

func cmdLogin(ctx context.Context, e *env, cCtx *cli.Context) error {
	return login(ctx, e, cCtx.String("email"))
}

func login(ctx context.Context, e *env, email string) error {
	if e.app.Session().Status == session.Authenticated {
		fmt.Println("Already signed in. Log out first.")
		return nil
	}
	var err error
	if email == "" {
		if email, err = e.p.Required("Email"); err != nil {
			return err
		}
	}
	password, err := e.p.Line("Password")
	if err != nil {
		return err
	}
	s, err := e.app.Login(ctx, email, password)
	if err != nil {
		return describe(err)
	}
	fmt.Printf("Welcome, %s.\n", s.User.FullName())
	return nil
}

func cmdLogout(ctx context.Context, e *env, _ *cli.Context) error {
	e.app.Logout(ctx)
	fmt.Println("Signed out.")
	return nil
}

func cmdPurge(_ context.Context, e *env, _ *cli.Context) error {
	e.app.Purge()
	fmt.Println("Local session state erased.")
	return nil
}

func cmdWhoami(ctx context.Context, e *env, _ *cli.Context) error {
	s := e.app.Session()
	if s.Status == session.Authenticated {
		if refreshed, err := e.app.Refresh(ctx); err == nil {
			s = refreshed
		} else if autherr.Is(err, autherr.Unauthenticated) {
			s = e.app.Session()
		}
	}
	printSession(s)
	return nil
}

func printSession(s session.Session) {
	if s.Status != session.Authenticated || s.User == nil {
		fmt.Println("Not signed in.")
		return
	}
	u := s.User
	fmt.Printf("%s <%s>\n", u.FullName(), u.Email)
	fmt.Printf("  role:      %s\n", u.UserType)
	fmt.Printf("  username:  %s\n", u.Username)
	fmt.Printf("  verified:  %t\n", u.IsEmailVerified)
	if u.LoyaltyDiscount > 0 {
		fmt.Printf("  discount:  %.1f%%\n", u.LoyaltyDiscount)
	}
}

func cmdVerifyEmail(ctx context.Context, e *env, cCtx *cli.Context) error {
	return verifyEmail(ctx, e, cCtx.String("email"), cCtx.String("code"))
}

func verifyEmail(ctx context.Context, e *env, email, code string) error {
	var err error
	if email == "" {
		if s := e.app.Session(); s.User != nil {
			email, err = e.p.Default("Email", s.User.Email)
		} else {
			email, err = e.p.Required("Email")
		}
		if err != nil {
			return err
		}
	}
	if code == "" {
		if code, err = e.p.Required("Code from the email"); err != nil {
			return err
		}
	}
	if err := e.app.VerifyEmail(ctx, email, code); err != nil {
		return describe(err)
	}
	fmt.Println("Email confirmed.")
	return nil
}

func cmdOpen(_ context.Context, e *env, cCtx *cli.Context) error {
	path := cCtx.Args().First()
	if path == "" {
		return errors.New("usage: open <path>")
	}
	return open(e, path)
}

func open(e *env, path string) error {
	r, d, err := e.app.Navigate(path)
	if err != nil {
		return err
	}
	switch d.Outcome {
	case guard.Render:
		fmt.Printf("%s: showing %q\n", r.Path, r.Title)
	case guard.Redirect:
		fmt.Printf("%s: redirect to %s\n", r.Path, d.Path)
	case guard.VerificationPrompt:
		fmt.Printf("%s: confirm your email first (verify-email)\n", r.Path)
	case guard.Forbidden:
		fmt.Printf("%s: not available for your account type\n", r.Path)
	case guard.Loading:
		fmt.Printf("%s: loading\n", r.Path)
	}
	return nil
}

func cmdRegister(ctx context.Context, e *env, _ *cli.Context) error {
	if e.app.Session().Status == session.Authenticated {
		fmt.Println("Already signed in. Log out first.")
		return nil
	}
	f := e.app.NewRegistration()
	if err := chooseRole(e, f); err != nil {
		return err
	}

	role := f.Draft().Role
	pending := formFields(role)
	for {
		if err := askFields(e, f, pending); err != nil {
			return err
		}
		err := f.Submit(ctx)
		if err == nil {
			break
		}
		d := f.Draft()
		if d.GeneralError != "" {
			fmt.Println("!", d.GeneralError)
		}
		if len(d.ValidationErrors) == 0 {
			return describe(err)
		}
		pending = pending[:0]
		for _, field := range sortedKeys(d.ValidationErrors) {
			fmt.Printf("! %s: %s\n", fieldLabels[field], d.ValidationErrors[field])
			pending = append(pending, field)
		}
	}

	d := f.Draft()
	switch d.Step {
	case registration.PendingActivation:
		fmt.Println("Thank you. Your agent account will be activated by our team; you will receive an email to set your password.")
	case registration.Done:
		fmt.Printf("Account created. We sent a confirmation code to %s; run verify-email to confirm it.\n", d.User.Email)
	}
	return nil
}

func chooseRole(e *env, f *registration.Flow) error {
	for {
		role, err := e.p.Choice("Register as", []string{string(models.Client), string(models.Agent)})
		if err != nil {
			return err
		}
		if err := f.SelectRole(models.UserType(role)); err != nil {
			return err
		}
		if err := f.ConfirmRole(); err != nil {
			return err
		}
		ok, err := e.p.Confirm(fmt.Sprintf("Continue as %s?", role))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := f.Back(); err != nil {
			return err
		}
	}
}

func formFields(role models.UserType) []string {
	fields := append([]string(nil), registration.RequiredFields[role]...)
	if role == models.Client {
		fields = append(fields, registration.FieldCompanyName)
	}
	return append(fields, registration.RequiredChecks[role]...)
}

func askFields(e *env, f *registration.Flow, fields []string) error {
	d := f.Draft()
	for _, field := range fields {
		label := fieldLabels[field]
		var err error
		switch field {
		case registration.CheckTerms, registration.CheckPublicOffer:
			var ok bool
			if ok, err = e.p.Confirm(label); err == nil {
				err = f.SetCheck(field, ok)
			}
		case registration.FieldOrganizationType:
			var v string
			if v, err = e.p.Choice(label, models.OrganizationTypes); err == nil {
				err = f.SetValue(field, v)
			}
		case registration.FieldActivityType:
			var v string
			if v, err = e.p.Choice(label, models.ActivityTypes); err == nil {
				err = f.SetValue(field, v)
			}
		case registration.FieldPassword, registration.FieldConfirmPassword:
			var v string
			if v, err = e.p.Line(label); err == nil {
				err = f.SetValue(field, v)
			}
		default:
			var v string
			if v, err = e.p.Default(label, d.Values[field]); err == nil {
				err = f.SetValue(field, v)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func cmdForgot(ctx context.Context, e *env, cCtx *cli.Context) error {
	return forgot(ctx, e, cCtx.String("email"), cCtx.String("code"))
}

func forgot(ctx context.Context, e *env, email, code string) error {
	if e.app.Session().Status == session.Authenticated {
		fmt.Println("Already signed in. Log out first.")
		return nil
	}
	f := e.app.NewPasswordReset()

	if email != "" && code != "" {
		if err := f.SeedFromLink(email, code); err != nil {
			return describe(err)
		}
	} else if err := requestCode(ctx, e, f, email); err != nil {
		return err
	}

	if err := enterCode(ctx, e, f); err != nil {
		return err
	}

	for {
		pw, err := e.p.Line("New password")
		if err != nil {
			return err
		}
		confirm, err := e.p.Line("Repeat new password")
		if err != nil {
			return err
		}
		err = f.SubmitNewPassword(ctx, pw, confirm)
		if err == nil {
			break
		}
		if autherr.Is(err, autherr.Validation) {
			fmt.Println("!", describe(err))
			continue
		}
		if s := f.State(); s.Step == reset.EmailEntry {
			fmt.Println("!", s.Error)
		}
		return describe(err)
	}
	fmt.Println("Password changed. You are now signed in.")
	return nil
}

func requestCode(ctx context.Context, e *env, f *reset.Flow, email string) error {
	for {
		var err error
		if email == "" {
			if email, err = e.p.Required("Email"); err != nil {
				return err
			}
		}
		err = f.RequestCode(ctx, email)
		if err == nil {
			fmt.Println(reset.SentMessage)
			return nil
		}
		if !autherr.Is(err, autherr.Validation) {
			return describe(err)
		}
		fmt.Println("!", describe(err))
		email = ""
	}
}

func enterCode(ctx context.Context, e *env, f *reset.Flow) error {
	if f.State().Digits != "" {
		err := f.VerifyCode(ctx)
		if err == nil {
			return nil
		}
		if !autherr.Is(err, autherr.InvalidOrExpiredCode) {
			return describe(err)
		}
		fmt.Println("! The code from the link is invalid or has expired.")
	}
	for {
		in, err := e.p.Line("4-digit code (r to resend)")
		if err != nil {
			return err
		}
		if strings.EqualFold(in, "r") {
			switch err := f.Resend(ctx); {
			case errors.Is(err, reset.ErrCooldownActive):
				fmt.Printf("! You can request a new code in %d s.\n", int(f.CooldownRemaining().Seconds()+0.5))
			case err != nil:
				return describe(err)
			default:
				fmt.Println(reset.SentMessage)
			}
			continue
		}
		if err := f.EnterDigits(in); err != nil {
			return err
		}
		err = f.VerifyCode(ctx)
		if err == nil {
			return nil
		}
		if autherr.Is(err, autherr.Transport) {
			return describe(err)
		}
		fmt.Println("!", f.State().Error)
	}
}

// describe turns an error into a message fit for the terminal.
func describe(err error) error {
	var ae *autherr.Error
	if !errors.As(err, &ae) {
		return err
	}
	switch ae.Kind {
	case autherr.InvalidCredentials:
		return errors.New("wrong email or password")
	case autherr.AccountLocked:
		return errors.New("the account is temporarily locked after too many failed attempts")
	case autherr.AccountDeactivated:
		return errors.New("the account is deactivated")
	case autherr.Transport:
		return fmt.Errorf("could not reach the server: %w", err)
	}
	if ae.Message != "" {
		return errors.New(ae.Message)
	}
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
