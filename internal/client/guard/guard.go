// Package guard decides what a page may show for a given session.
package guard

import (
	"slices"
	"strings"

	"github.com/atinyakov/CargoDesk/internal/client/session"
	"github.com/atinyakov/CargoDesk/internal/models"
)

// Access says who may open a page.
type Access int

const (
	Any Access = iota
	Authenticated
	// GuestOnly pages, like the login form, send signed-in users home.
	GuestOnly
)

// Requirements are the conditions a page declares.
type Requirements struct {
	Access                   Access
	RequireEmailVerification bool
	// AllowedUserTypes, when non-empty, restricts the page to these roles.
	AllowedUserTypes []models.UserType
}

// Outcome is what the caller should do.
type Outcome int

const (
	Render Outcome = iota
	Redirect
	Loading
	VerificationPrompt
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Redirect:
		return "redirect"
	case Loading:
		return "loading"
	case VerificationPrompt:
		return "verify-email"
	case Forbidden:
		return "forbidden"
	}
	return "render"
}

// Well-known paths.
const (
	LoginPath = "/login"
	HomePath  = "/"
)

// Decision is the result of Decide. Path is set only for Redirect.
type Decision struct {
	Outcome Outcome
	Path    string
}

// Decide maps a session and page requirements to a decision. It has no side
// effects and is defined for every input.
func Decide(s session.Session, req Requirements) Decision {
	if s.Status == session.Unknown {
		return Decision{Outcome: Loading}
	}
	authed := s.Status == session.Authenticated && s.User != nil

	switch req.Access {
	case Authenticated:
		if !authed {
			return Decision{Outcome: Redirect, Path: LoginPath}
		}
	case GuestOnly:
		if authed {
			return Decision{Outcome: Redirect, Path: HomePath}
		}
		return Decision{Outcome: Render}
	}

	if !authed {
		return Decision{Outcome: Render}
	}
	if req.RequireEmailVerification && !s.User.IsEmailVerified {
		return Decision{Outcome: VerificationPrompt}
	}
	if len(req.AllowedUserTypes) > 0 && !slices.Contains(req.AllowedUserTypes, s.User.UserType) {
		return Decision{Outcome: Forbidden}
	}
	return Decision{Outcome: Render}
}

// Route is a page of the portal or the CRM.
type Route struct {
	Path  string
	Title string
	Requirements
}

// Portal lists every page the client knows about.
var Portal = []Route{
	{Path: "/", Title: "Home"},
	{Path: "/login", Title: "Sign in", Requirements: Requirements{Access: GuestOnly}},
	{Path: "/register", Title: "Create account", Requirements: Requirements{Access: GuestOnly}},
	{Path: "/forgot-password", Title: "Reset password", Requirements: Requirements{Access: GuestOnly}},
	{Path: "/profile", Title: "Profile", Requirements: Requirements{Access: Authenticated}},
	{Path: "/orders", Title: "My shipments", Requirements: Requirements{
		Access:                   Authenticated,
		RequireEmailVerification: true,
		AllowedUserTypes:         []models.UserType{models.Client},
	}},
	{Path: "/agent", Title: "Agent cabinet", Requirements: Requirements{
		Access:                   Authenticated,
		RequireEmailVerification: true,
		AllowedUserTypes:         []models.UserType{models.Agent},
	}},
	{Path: "/crm", Title: "CRM", Requirements: Requirements{
		Access:           Authenticated,
		AllowedUserTypes: []models.UserType{models.Admin, models.Agent},
	}},
	{Path: "/crm/users", Title: "CRM users", Requirements: Requirements{
		Access:           Authenticated,
		AllowedUserTypes: []models.UserType{models.Admin},
	}},
}

// Lookup finds the route for path. Trailing slashes and query strings are
// ignored; unknown paths are reported with ok=false.
func Lookup(path string) (Route, bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	for _, r := range Portal {
		if r.Path == path {
			return r, true
		}
	}
	return Route{}, false
}
