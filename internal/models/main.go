// Package models defines the core data structures shared by the client and
// the reference backend: users, roles and the REST wire envelopes.
package models

import "time"

// UserType is the role a marketplace account is registered with.
type UserType string

const (
	// Client is a shipper ordering deliveries through the portal.
	Client UserType = "client"
	// Agent is a logistics partner; agent accounts are activated separately.
	Agent UserType = "agent"
	// Admin is a CRM operator.
	Admin UserType = "admin"
)

// Valid reports whether t is one of the known user types.
func (t UserType) Valid() bool {
	switch t {
	case Client, Agent, Admin:
		return true
	}
	return false
}

// User is the profile returned by the backend.
type User struct {
	// ID is the unique identifier for the user.
	ID string `json:"id"`
	// Email is the login identifier; unique.
	Email string `json:"email"`
	// FirstName and LastName are the person's display names.
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	// Username is unique across accounts.
	Username string   `json:"username"`
	Phone    string   `json:"phone,omitempty"`
	UserType UserType `json:"userType"`
	// CompanyName is the optional organization name of a client.
	CompanyName string `json:"companyName,omitempty"`
	// OrganizationType and ActivityType are agent-only enums.
	OrganizationType string `json:"organizationType,omitempty"`
	ActivityType     string `json:"activityType,omitempty"`
	Language         string `json:"language,omitempty"`
	// IsEmailVerified is false until the emailed code is confirmed.
	IsEmailVerified bool `json:"isEmailVerified"`
	// IsActive is false for deactivated accounts and agents awaiting activation.
	IsActive        bool      `json:"isActive"`
	LoyaltyDiscount float64   `json:"loyaltyDiscount"`
	CreatedAt       time.Time `json:"createdAt"`

	// PasswordHash is the bcrypt hash of the password; empty for agents awaiting activation.
	PasswordHash []byte `json:"-"`
	// FailedLogins counts consecutive failed logins.
	FailedLogins int `json:"-"`
	// LockedUntil is set while the account is locked after too many failures.
	LockedUntil *time.Time `json:"-"`
}

// FullName joins the first and last names.
func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// OrganizationTypes enumerates the legal forms an agent may register with.
var OrganizationTypes = []string{"individual", "sole_proprietor", "llc", "jsc"}

// ActivityTypes enumerates the services an agent may offer.
var ActivityTypes = []string{"carrier", "freight_forwarder", "customs_broker", "warehouse"}
